package queue

import (
	"context"
	"sync"
	"time"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// MemoryQueue is an in-process job queue: a pending FIFO channel, a map of
// claimed (processing) jobs, and a TTL-indexed delivery-id dedup set. It
// does not survive a process restart — RecoverCrashed is a no-op, since
// there is nothing to recover from once the process holding the map is
// gone. Use FileQueue where crash recovery matters.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    chan domain.EntityID
	jobs       map[domain.EntityID]*WebhookJob
	dedup      map[string]time.Time // delivery_id -> admitted_at
	dedupTTL   time.Duration
}

// NewMemoryQueue creates an in-memory queue with capacity pending slots and
// the given delivery-id dedup TTL.
func NewMemoryQueue(capacity int, dedupTTL time.Duration) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		pending:  make(chan domain.EntityID, capacity),
		jobs:     make(map[domain.EntityID]*WebhookJob),
		dedup:    make(map[string]time.Time),
		dedupTTL: dedupTTL,
	}
}

func (q *MemoryQueue) Enqueue(job *WebhookJob) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredDedup()
	if _, seen := q.dedup[job.DeliveryID]; seen {
		return true, nil
	}

	select {
	case q.pending <- job.ID():
	default:
		return false, skyerr.New(skyerr.KindUnavailable, "MemoryQueue.Enqueue", "pending queue is full")
	}
	q.jobs[job.ID()] = job
	q.dedup[job.DeliveryID] = time.Now()
	return false, nil
}

func (q *MemoryQueue) evictExpiredDedup() {
	if q.dedupTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-q.dedupTTL)
	for id, at := range q.dedup {
		if at.Before(cutoff) {
			delete(q.dedup, id)
		}
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*WebhookJob, error) {
	select {
	case id := <-q.pending:
		q.mu.Lock()
		job, ok := q.jobs[id]
		q.mu.Unlock()
		if !ok {
			return nil, skyerr.New(skyerr.KindInternal, "MemoryQueue.Dequeue", "claimed job vanished from map")
		}
		if err := job.MarkProcessing(); err != nil {
			return nil, err
		}
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Complete(jobID domain.EntityID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return skyerr.New(skyerr.KindNotFound, "MemoryQueue.Complete", "job not found")
	}
	return job.MarkCompleted()
}

func (q *MemoryQueue) Fail(jobID domain.EntityID, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return false, skyerr.New(skyerr.KindNotFound, "MemoryQueue.Fail", "job not found")
	}
	retryable := job.MarkFailed(cause)
	if retryable {
		if err := job.ResetForRetry(); err != nil {
			return false, err
		}
		select {
		case q.pending <- job.ID():
		default:
			return false, skyerr.New(skyerr.KindUnavailable, "MemoryQueue.Fail", "pending queue is full on retry")
		}
	}
	return retryable, nil
}

func (q *MemoryQueue) MarkCleanupFailed(jobID domain.EntityID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return skyerr.New(skyerr.KindNotFound, "MemoryQueue.MarkCleanupFailed", "job not found")
	}
	job.MarkCleanupFailed(cause)
	return nil
}

func (q *MemoryQueue) ExistsByDeliveryID(deliveryID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredDedup()
	_, ok := q.dedup[deliveryID]
	return ok
}

// RecoverCrashed is a no-op: an in-memory queue cannot outlive the process
// whose crash it would need to recover from.
func (q *MemoryQueue) RecoverCrashed() ([]*WebhookJob, error) { return nil, nil }

func (q *MemoryQueue) Get(jobID domain.EntityID) (*WebhookJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok
}

func (q *MemoryQueue) Size() int {
	return len(q.pending)
}

var _ Queue = (*MemoryQueue)(nil)
