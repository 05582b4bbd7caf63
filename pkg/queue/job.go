// Package queue implements the durable webhook job queue: a four-bin state
// machine (pending → processing → completed|failed) with delivery-id
// deduplication and crash recovery, grounded on picoclaw's
// infrastructure/persistence.JSONStore[T] file-per-entity durability
// pattern and orchestration.Orchestrator's lease/retry vocabulary.
package queue

import (
	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// Status is the job's position in the four-bin state machine.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	// StatusCleanupFailed is distinct from StatusFailed: the agent's work
	// succeeded and was pushed, but worktree removal failed. It is never
	// auto-retried — the job itself is done, only housekeeping is dirty.
	StatusCleanupFailed Status = "cleanup_failed"
)

// WebhookJob is the aggregate root for a single unit of enqueued work: one
// webhook delivery, tracked end to end from intake through orchestration.
type WebhookJob struct {
	domain.AggregateRoot

	Source     string         `json:"source"`      // "github" | "trello"
	DeliveryID string         `json:"delivery_id"`  // idempotency key from the source
	CorrelationID string      `json:"correlation_id"` // delivery_id if present, else the job id; threads every event this job produces
	EventType  string         `json:"event_type"`   // e.g. "issues"
	Action     string         `json:"action"`        // e.g. "opened", "labeled"
	IssueNumber int           `json:"issue_number"`
	RepoFullName string       `json:"repo_full_name,omitempty"`
	AgentType  string         `json:"agent_type"`    // which skill/agent should handle this
	Payload    map[string]interface{} `json:"payload"`
	Metadata   domain.Metadata `json:"metadata,omitempty"`

	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError  string           `json:"last_error,omitempty"`

	WorktreePath string         `json:"worktree_path,omitempty"`
	BranchName   string         `json:"branch_name,omitempty"`

	CreatedAt   domain.Timestamp `json:"created_at"`
	UpdatedAt   domain.Timestamp `json:"updated_at"`
	StartedAt   domain.Timestamp `json:"started_at,omitempty"`
	FinishedAt  domain.Timestamp `json:"finished_at,omitempty"`
}

// New constructs a pending job from a received webhook event. job_id is
// generated here and later embedded in the worktree path and branch name
// to guarantee uniqueness across concurrently processed issues.
func New(source, deliveryID, eventType, action string, issueNumber int, repoFullName, agentType string, payload map[string]interface{}) *WebhookJob {
	j := &WebhookJob{
		Source:       source,
		DeliveryID:   deliveryID,
		EventType:    eventType,
		Action:       action,
		IssueNumber:  issueNumber,
		RepoFullName: repoFullName,
		AgentType:    agentType,
		Payload:      payload,
		Status:       StatusPending,
		MaxAttempts:  3,
		CreatedAt:    domain.Now(),
		UpdatedAt:    domain.Now(),
	}
	j.SetID(domain.NewID())
	j.CorrelationID = deliveryID
	if j.CorrelationID == "" {
		j.CorrelationID = string(j.ID())
	}
	j.RecordEvent(domain.NewEvent(domain.EventJobEnqueued, j.ID(), map[string]interface{}{
		"source":       source,
		"delivery_id":  deliveryID,
		"issue_number": issueNumber,
	}).WithCorrelationID(j.CorrelationID))
	return j
}

// MarkProcessing transitions pending → processing. Monotonic: any status
// other than pending is rejected with a KindConflict error (crash recovery
// goes through Resurrect, which returns the job to pending first).
func (j *WebhookJob) MarkProcessing() error {
	if j.Status != StatusPending {
		return skyerr.New(skyerr.KindConflict, "WebhookJob.MarkProcessing", "job is not pending: "+string(j.Status))
	}
	j.Status = StatusProcessing
	j.Attempts++
	j.StartedAt = domain.Now()
	j.UpdatedAt = domain.Now()
	j.RecordEvent(domain.NewEvent(domain.EventJobDequeued, j.ID(), map[string]interface{}{"attempt": j.Attempts}).WithCorrelationID(j.CorrelationID))
	return nil
}

// MarkCompleted transitions processing → completed.
func (j *WebhookJob) MarkCompleted() error {
	if j.Status != StatusProcessing {
		return skyerr.New(skyerr.KindConflict, "WebhookJob.MarkCompleted", "job is not processing: "+string(j.Status))
	}
	j.Status = StatusCompleted
	j.FinishedAt = domain.Now()
	j.UpdatedAt = domain.Now()
	j.RecordEvent(domain.NewEvent(domain.EventJobCompleted, j.ID(), nil).WithCorrelationID(j.CorrelationID))
	return nil
}

// MarkFailed transitions processing → failed and reports whether the
// caller should re-enqueue the job (attempts remain under MaxAttempts).
func (j *WebhookJob) MarkFailed(cause error) (retryable bool) {
	j.Status = StatusFailed
	j.LastError = cause.Error()
	j.FinishedAt = domain.Now()
	j.UpdatedAt = domain.Now()
	j.RecordEvent(domain.NewEvent(domain.EventJobFailed, j.ID(), map[string]interface{}{
		"error":   cause.Error(),
		"attempt": j.Attempts,
	}).WithCorrelationID(j.CorrelationID))
	return j.Attempts < j.MaxAttempts
}

// MarkCleanupFailed transitions completed → cleanup_failed. The job's
// actual work is done; this only flags that worktree teardown needs manual
// or swept attention. It is never retried automatically.
func (j *WebhookJob) MarkCleanupFailed(cause error) {
	j.Status = StatusCleanupFailed
	j.LastError = cause.Error()
	j.UpdatedAt = domain.Now()
	j.RecordEvent(domain.NewEvent(domain.EventCleanupFailed, j.ID(), map[string]interface{}{"error": cause.Error()}).WithCorrelationID(j.CorrelationID))
}

// Resurrect moves a job found in the processing bin at startup back to
// pending, for crash recovery. Recorded as a distinct event so the failure
// taxonomy can distinguish a crash-induced retry from a normal dequeue.
func (j *WebhookJob) Resurrect() {
	j.Status = StatusPending
	j.UpdatedAt = domain.Now()
	j.RecordEvent(domain.NewEvent(domain.EventJobResurrected, j.ID(), map[string]interface{}{"prior_attempts": j.Attempts}).WithCorrelationID(j.CorrelationID))
}

// ResetForRetry moves a failed-but-retryable job back to pending.
func (j *WebhookJob) ResetForRetry() error {
	if j.Status != StatusFailed {
		return skyerr.New(skyerr.KindConflict, "WebhookJob.ResetForRetry", "job is not failed: "+string(j.Status))
	}
	j.Status = StatusPending
	j.UpdatedAt = domain.Now()
	return nil
}
