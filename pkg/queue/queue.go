package queue

import (
	"context"

	"github.com/h4mn/skybridge/pkg/domain"
)

// Queue is the durable job queue contract. Both the in-memory and
// file-backed implementations satisfy it, so the orchestrator and the
// webhook intake never know which backend is wired in.
type Queue interface {
	// Enqueue admits a new job. If a job with the same DeliveryID was
	// already admitted within the dedup TTL, Enqueue reports duplicate=true
	// and does not create a second job — duplicate webhook deliveries are
	// the common case (GitHub retries on slow 2xx) and must be idempotent.
	Enqueue(job *WebhookJob) (duplicate bool, err error)

	// Dequeue blocks until a pending job is available or ctx is done,
	// then atomically claims it (pending → processing) and returns it.
	Dequeue(ctx context.Context) (*WebhookJob, error)

	// Complete marks a claimed job completed.
	Complete(jobID domain.EntityID) error

	// Fail marks a claimed job failed and reports whether it was
	// re-enqueued (retryable) or is now terminal.
	Fail(jobID domain.EntityID, cause error) (retryable bool, err error)

	// MarkCleanupFailed flags a completed job whose worktree teardown
	// did not succeed. The job itself stays completed; this is bookkeeping
	// for an operator sweep, not a retry signal.
	MarkCleanupFailed(jobID domain.EntityID, cause error) error

	// ExistsByDeliveryID reports whether a delivery was already admitted
	// within the dedup TTL, without creating anything.
	ExistsByDeliveryID(deliveryID string) bool

	// RecoverCrashed resurrects jobs left in the processing bin by a
	// prior process that died mid-job, returning them to pending and
	// reporting how many were recovered.
	RecoverCrashed() ([]*WebhookJob, error)

	// Get retrieves a job in any bin by ID, for status queries.
	Get(jobID domain.EntityID) (*WebhookJob, bool)

	// Size reports the count of pending jobs, for /metrics.
	Size() int
}
