// Package listeners holds the concrete event-bus subscribers spec.md §4.6
// names: a Kanban listener that projects Job/Issue events onto the board,
// and a Metrics listener that maintains counters and latency percentiles.
// Both subscribe through domain.EventBus rather than being called
// directly, so publishers (webhook intake, the orchestrator) never import
// pkg/kanban or pkg/listeners themselves.
package listeners

import (
	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/kanban"
	"github.com/h4mn/skybridge/pkg/logger"
)

// KanbanListener reacts to job lifecycle events by projecting them onto
// the local Kanban board, grounded on spec.md §4.7's "Reactions to
// events" table.
type KanbanListener struct {
	board *kanban.Board
}

// NewKanbanListener creates a listener bound to board. Call Subscribe to
// register its handlers on an event bus.
func NewKanbanListener(board *kanban.Board) *KanbanListener {
	return &KanbanListener{board: board}
}

// Subscribe registers every handler this listener owns on bus.
func (l *KanbanListener) Subscribe(bus domain.EventBus) {
	bus.Subscribe(domain.EventJobDequeued, l.onJobDequeued)
	bus.Subscribe(domain.EventJobCompleted, l.onJobCompleted)
	bus.Subscribe(domain.EventJobFailed, l.onJobFailed)
	bus.Subscribe(domain.EventWebhookReceived, l.onWebhookReceived)
}

func (l *KanbanListener) onJobDequeued(evt domain.Event) {
	data, ok := evt.Payload().(map[string]interface{})
	if !ok {
		return
	}
	issueNumber, _ := data["issue_number"].(int)
	agentType, _ := data["agent_type"].(string)
	jobID, _ := data["job_id"].(string)
	title, _ := data["title"].(string)
	if jobID == "" {
		return
	}
	if _, err := l.board.StartProcessing(issueNumber, "", title, agentType, jobID); err != nil {
		logger.WarnCF("listeners", "kanban start-processing failed", map[string]interface{}{"job_id": jobID, "error": err.Error()})
	}
}

func (l *KanbanListener) onJobCompleted(evt domain.Event) {
	l.finish(evt, true, "")
}

func (l *KanbanListener) onJobFailed(evt domain.Event) {
	data, ok := evt.Payload().(map[string]interface{})
	reason := ""
	if ok {
		if errMsg, ok := data["error"].(string); ok {
			reason = errMsg
		}
		if retryable, ok := data["retryable"].(bool); ok && retryable {
			// A retryable failure re-enqueues the job; the card stays
			// being_processed until the retry reaches a terminal event.
			return
		}
	}
	l.finish(evt, false, reason)
}

func (l *KanbanListener) finish(evt domain.Event, success bool, reason string) {
	data, ok := evt.Payload().(map[string]interface{})
	if !ok {
		return
	}
	jobID, _ := data["job_id"].(string)
	if jobID == "" {
		return
	}
	if err := l.board.FinishProcessing(jobID, success, reason); err != nil {
		logger.WarnCF("listeners", "kanban finish-processing failed", map[string]interface{}{"job_id": jobID, "error": err.Error()})
	}
}

func (l *KanbanListener) onWebhookReceived(evt domain.Event) {
	data, ok := evt.Payload().(map[string]interface{})
	if !ok {
		return
	}
	issueNumber, _ := data["issue_number"].(int)
	if issueNumber == 0 {
		return
	}
	title, _ := data["title"].(string)
	if _, err := l.board.EnsureCard(issueNumber, "", title); err != nil {
		logger.WarnCF("listeners", "kanban ensure-card failed", map[string]interface{}{"issue_number": issueNumber, "error": err.Error()})
	}
}
