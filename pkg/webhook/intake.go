package webhook

import (
	"strings"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/queue"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// SourceConfig holds the per-source secret and verifier the Intake
// consults to authenticate requests from that source.
type SourceConfig struct {
	Verifier Verifier
	Secret   string
}

// Intake implements the receive() operation from spec.md §4.1: it
// authenticates, deduplicates, routes, and hands a well-formed job to the
// queue. It never touches net/http directly — pkg/httpapi adapts its
// headers/body into calls here, keeping the HTTP framework itself a
// non-goal of this package.
type Intake struct {
	sources map[string]SourceConfig
	q       queue.Queue
	bus     domain.EventBus
}

// New wires an Intake. Kanban card creation on "issues.opened" is not
// performed here — it reacts to the EventWebhookReceived published below,
// handled by listeners.KanbanListener, keeping intake decoupled from the
// board per spec.md §4.6.
func New(q queue.Queue, bus domain.EventBus, sources map[string]SourceConfig) *Intake {
	return &Intake{sources: sources, q: q, bus: bus}
}

// Outcome is the result of Receive: an admitted job sets JobID, a ping
// sets Pong, a duplicate delivery sets Duplicate, and a rejection leaves
// Accepted false with RejectKind/RejectError set.
type Outcome struct {
	Accepted    bool
	Duplicate   bool
	Pong        bool
	JobID       string
	RejectKind  skyerr.Kind
	RejectError error
}

// Receive authenticates and routes one inbound webhook request.
// agentTypeForLabels maps the issue's labels to the orchestrator's
// skill/agent_type, matching spec.md §4.5 point 3 ("select skill from
// issue labels").
func (i *Intake) Receive(source, header, deliveryID string, rawPayload []byte, signature string) Outcome {
	cfg, ok := i.sources[source]
	if !ok {
		return Outcome{RejectKind: skyerr.KindInvalid, RejectError: skyerr.New(skyerr.KindInvalid, "Intake.Receive", "unsupported source: "+source)}
	}
	if !cfg.Verifier.Verify(rawPayload, signature, cfg.Secret) {
		logger.WarnCF("webhook", "signature verification failed", map[string]interface{}{"source": source})
		return Outcome{RejectKind: skyerr.KindUnauthorized, RejectError: skyerr.New(skyerr.KindUnauthorized, "Intake.Receive", "signature mismatch")}
	}

	event := NewEvent(source, header, deliveryID, rawPayload)

	if event.IsPing() {
		return Outcome{Accepted: true, Pong: true}
	}

	if deliveryID != "" && i.q.ExistsByDeliveryID(deliveryID) {
		logger.InfoCF("webhook", "duplicate delivery, no-op", map[string]interface{}{"delivery_id": deliveryID})
		i.publish(domain.EventWebhookDuplicate, deliveryID, map[string]interface{}{"delivery_id": deliveryID})
		return Outcome{Accepted: true, Duplicate: true}
	}

	eventType := event.EventType()
	if !i.isRoutable(source, eventType) {
		return Outcome{RejectKind: skyerr.KindInvalid, RejectError: skyerr.New(skyerr.KindInvalid, "Intake.Receive", "unsupported event_type: "+eventType)}
	}

	agentType := agentTypeForLabels(event.Labels())
	job := queue.New(source, deliveryID, eventType, event.Action(), event.IssueNumber(), event.Repository(), agentType, payloadAsMap(event))

	if dup, err := i.q.Enqueue(job); err != nil {
		return Outcome{RejectKind: skyerr.KindUnavailable, RejectError: skyerr.Wrap(skyerr.KindUnavailable, "Intake.Receive", "enqueue failed", err)}
	} else if dup {
		return Outcome{Accepted: true, Duplicate: true}
	}

	i.publishFor(domain.EventWebhookReceived, job.ID(), job.CorrelationID, map[string]interface{}{
		"source": source, "event_type": eventType,
		"issue_number": event.IssueNumber(), "title": event.IssueTitle(),
	})

	return Outcome{Accepted: true, JobID: string(job.ID())}
}

// isRoutable restricts processing to the event types spec.md and
// original_source's webhook_processor.py actually route on: GitHub issue
// lifecycle events and Trello card events. Anything else (pushes, stars,
// etc.) is rejected at intake rather than silently queued and ignored
// downstream.
func (i *Intake) isRoutable(source, eventType string) bool {
	switch source {
	case "github":
		return strings.HasPrefix(eventType, "issues.") || eventType == "issue_comment.created"
	case "trello":
		return strings.HasPrefix(eventType, "trello.") || eventType == "trello"
	}
	return false
}

func (i *Intake) publish(eventType domain.EventType, correlationID string, data map[string]interface{}) {
	i.publishFor(eventType, domain.NewID(), correlationID, data)
}

func (i *Intake) publishFor(eventType domain.EventType, aggregateID domain.EntityID, correlationID string, data map[string]interface{}) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(domain.NewEvent(eventType, aggregateID, data).WithCorrelationID(correlationID))
}

// agentTypeForLabels maps an issue's labels to an agent_type, per
// original_source's trigger_mappings.py label-keyword convention. The
// first matching label wins; an unlabelled issue defaults to
// "resolve-issue" (the common case of "fix this").
func agentTypeForLabels(labels []string) string {
	for _, l := range labels {
		switch strings.ToLower(l) {
		case "analyze", "investigate", "triage":
			return "analyze-issue"
		case "review":
			return "review-issue"
		case "publish", "release":
			return "publish-issue"
		case "bug", "bugfix", "fix":
			return "resolve-issue"
		}
	}
	return "resolve-issue"
}

func payloadAsMap(e *Event) map[string]interface{} {
	return map[string]interface{}{
		"issue_number": e.IssueNumber(),
		"repository":   e.Repository(),
		"labels":       e.Labels(),
		"title":        e.IssueTitle(),
	}
}
