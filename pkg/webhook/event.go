// Package webhook accepts inbound webhook requests, authenticates them
// per-source, rejects replays, and hands off a well-formed queue.WebhookJob.
// Grounded on picoclaw's pkg/api webhook handler shape (HMAC verification
// ahead of any domain logic) and original_source's webhook_processor.py
// (duplicate-check-first, issues.*-only routing, trello-card-on-opened-only
// logic) — reimplemented as Go types/functions instead of translated.
package webhook

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Event is the parsed, not-yet-queued inbound request: the source's raw
// bytes plus the handful of fields the intake operation and the
// orchestrator need out of an otherwise-opaque payload.
//
// spec.md §3 calls WebhookEvent's payload "an arbitrary structured value";
// gjson lets accessors pull fields out of it without declaring a struct
// per event shape, which is exactly that contract.
type Event struct {
	Source     string // "github" | "trello"
	Header     string // e.g. X-GitHub-Event value: "issues", "ping"
	DeliveryID string
	RawPayload []byte
	payload    gjson.Result
}

// NewEvent parses rawPayload lazily via gjson; payload field access never
// fails with a parse error, it just returns a zero gjson.Result for a
// missing path.
func NewEvent(source, header, deliveryID string, rawPayload []byte) *Event {
	return &Event{
		Source:     source,
		Header:     header,
		DeliveryID: deliveryID,
		RawPayload: rawPayload,
		payload:    gjson.ParseBytes(rawPayload),
	}
}

// Action returns payload.action, or "" if the payload carries none (e.g.
// a GitHub "ping" event).
func (e *Event) Action() string { return e.payload.Get("action").String() }

// EventType combines the source header with the payload's action field
// per spec.md §4.1: header "issues" + action "opened" -> "issues.opened".
// Headers that carry no action (e.g. "ping") are used verbatim.
func (e *Event) EventType() string {
	action := e.Action()
	if action == "" {
		return e.Header
	}
	return fmt.Sprintf("%s.%s", e.Header, action)
}

// IssueNumber extracts the GitHub issue number from the payload, or 0 if
// absent (e.g. a non-issue event).
func (e *Event) IssueNumber() int {
	return int(e.payload.Get("issue.number").Int())
}

// Repository extracts the GitHub repo's full_name ("owner/repo").
func (e *Event) Repository() string {
	return e.payload.Get("repository.full_name").String()
}

// Labels extracts the GitHub issue's label names.
func (e *Event) Labels() []string {
	var labels []string
	for _, l := range e.payload.Get("issue.labels.#.name").Array() {
		labels = append(labels, l.String())
	}
	return labels
}

// IssueTitle extracts the GitHub issue's title.
func (e *Event) IssueTitle() string {
	return e.payload.Get("issue.title").String()
}

// IsPing reports whether this is a GitHub ping event, which the intake
// operation answers with {"message": "pong"} instead of enqueuing a job.
func (e *Event) IsPing() bool {
	return e.Source == "github" && e.Header == "ping"
}
