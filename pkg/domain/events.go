package domain

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Domain event system — the backbone of cross-context communication
// ---------------------------------------------------------------------------

// EventType classifies domain events for routing and filtering.
type EventType string

// Bounded context prefixes ensure global uniqueness of event names.
const (
	// Webhook intake events
	EventWebhookReceived       EventType = "webhook.received"
	EventWebhookRejected       EventType = "webhook.rejected"
	EventWebhookDuplicate      EventType = "webhook.duplicate"

	// Job queue events
	EventJobEnqueued   EventType = "job.enqueued"
	EventJobDequeued   EventType = "job.dequeued"
	EventJobCompleted  EventType = "job.completed"
	EventJobFailed     EventType = "job.failed"
	EventJobResurrected EventType = "job.resurrected"

	// Worktree lifecycle events
	EventWorktreeCreated     EventType = "worktree.created"
	EventWorktreeRemoved     EventType = "worktree.removed"
	EventWorktreeCreateFailed EventType = "worktree.create_failed"
	EventCleanupFailed       EventType = "worktree.cleanup_failed"
	EventGitCommandBlocked   EventType = "worktree.git_blocked"

	// Agent execution events
	EventAgentStarted   EventType = "agent.started"
	EventAgentMessage   EventType = "agent.message"
	EventAgentTimeout   EventType = "agent.timeout"
	EventAgentCrashed   EventType = "agent.crashed"
	EventAgentCompleted EventType = "agent.completed"

	// Snapshot / diff events
	EventSnapshotTaken EventType = "snapshot.taken"
	EventDiffComputed  EventType = "diff.computed"

	// Orchestrator step events
	EventJobStepStarted   EventType = "orchestrator.step.started"
	EventJobStepCompleted EventType = "orchestrator.step.completed"
	EventJobStepFailed    EventType = "orchestrator.step.failed"
	EventCommitCreated    EventType = "orchestrator.commit.created"
	EventPullRequestOpened EventType = "orchestrator.pr.opened"

	// Kanban projection events
	EventCardCreated     EventType = "kanban.card.created"
	EventCardTransitioned EventType = "kanban.card.transitioned"
	EventCardSyncQueued  EventType = "kanban.card.sync_queued"
	EventCardSyncFailed  EventType = "kanban.card.sync_failed"

	// System-level events
	EventSystemStartup     EventType = "system.startup"
	EventSystemShutdown    EventType = "system.shutdown"
	EventSystemHealthCheck EventType = "system.health"
)

// Event is the interface all domain events implement.
type Event interface {
	// EventType returns the classified event type.
	EventType() EventType
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() EntityID
	// Payload returns the event-specific data.
	Payload() interface{}
	// EventID uniquely identifies this event instance.
	EventID() string
	// CorrelationID links this event back to the request or job that
	// caused it, threading a single value across every event a webhook
	// delivery produces from intake through cleanup.
	CorrelationID() string
}

// BaseEvent provides a reusable implementation of the Event interface.
type BaseEvent struct {
	ID        string      `json:"event_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id"`
	CorrelID  string      `json:"correlation_id,omitempty"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }
func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) CorrelationID() string { return e.CorrelID }

// NewEvent creates a new domain event with a fresh event id and no
// correlation id set. Call WithCorrelationID to thread a job's
// correlation id through before publishing.
func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// WithCorrelationID returns a copy of the event stamped with correlationID.
func (e BaseEvent) WithCorrelationID(correlationID string) BaseEvent {
	e.CorrelID = correlationID
	return e
}

// ---------------------------------------------------------------------------
// Event bus — decoupled cross-context communication
// ---------------------------------------------------------------------------

// EventHandler processes a domain event. Handlers should be idempotent;
// the bus may redeliver around a crash-recovery sweep.
type EventHandler func(Event)

// EventBus dispatches domain events to registered handlers. This is the
// anti-corruption layer between bounded contexts: the queue never imports
// the kanban package, it only publishes events the kanban listener
// happens to subscribe to.
type EventBus interface {
	// Publish dispatches an event to all registered handlers.
	Publish(event Event)
	// Subscribe registers a handler for a specific event type. Returns a
	// subscription id usable with Unsubscribe.
	Subscribe(eventType EventType, handler EventHandler) int
	// SubscribeAll registers a handler that receives every event.
	SubscribeAll(handler EventHandler) int
	// Unsubscribe removes a single handler registered by Subscribe or
	// SubscribeAll.
	Unsubscribe(id int)
	// UnsubscribeAll removes every handler for eventType (or every global
	// handler if eventType is empty).
	UnsubscribeAll(eventType EventType)
	// History returns the last n published events, oldest first.
	History(n int) []Event
	// Close shuts down the event bus.
	Close()
}
