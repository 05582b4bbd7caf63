package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func newTestFileQueue(t *testing.T) *FileQueue {
	t.Helper()
	dir := t.TempDir()
	q, err := NewFileQueue(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFileQueue: %v", err)
	}
	return q
}

func TestQueue_DuplicateDeliveryIsIdempotent(t *testing.T) {
	backends := map[string]Queue{
		"memory": NewMemoryQueue(16, time.Hour),
		"file":   newTestFileQueue(t),
	}
	for name, q := range backends {
		t.Run(name, func(t *testing.T) {
			job1 := New("github", "dlv-1", "issues", "opened", 42, "acme/repo", "bugfix", nil)
			dup, err := q.Enqueue(job1)
			if err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			if dup {
				t.Fatalf("first enqueue reported duplicate")
			}

			job2 := New("github", "dlv-1", "issues", "opened", 42, "acme/repo", "bugfix", nil)
			dup, err = q.Enqueue(job2)
			if err != nil {
				t.Fatalf("Enqueue (dup): %v", err)
			}
			if !dup {
				t.Fatalf("second enqueue with same delivery_id was not detected as duplicate")
			}

			if !q.ExistsByDeliveryID("dlv-1") {
				t.Fatalf("ExistsByDeliveryID reported false for admitted delivery")
			}
		})
	}
}

func TestQueue_MonotonicStatusProgression(t *testing.T) {
	q := NewMemoryQueue(16, time.Hour)
	job := New("github", "dlv-2", "issues", "opened", 7, "acme/repo", "bugfix", nil)
	if _, err := q.Enqueue(job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	claimed, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if claimed.Status != StatusProcessing {
		t.Fatalf("status after dequeue = %q, want processing", claimed.Status)
	}
	if err := q.Complete(claimed.ID()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, ok := q.Get(claimed.ID())
	if !ok || got.Status != StatusCompleted {
		t.Fatalf("status after complete = %v, want completed", got)
	}
}

func TestQueue_FailRetriesUntilMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(16, time.Hour)
	job := New("github", "dlv-3", "issues", "opened", 1, "acme/repo", "bugfix", nil)
	job.MaxAttempts = 2
	if _, err := q.Enqueue(job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	claimed, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue (1): %v", err)
	}
	retryable, err := q.Fail(claimed.ID(), errors.New("agent crashed"))
	if err != nil {
		t.Fatalf("Fail (1): %v", err)
	}
	if !retryable {
		t.Fatalf("expected retryable=true on attempt 1 of 2")
	}

	claimed, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue (2): %v", err)
	}
	retryable, err = q.Fail(claimed.ID(), errors.New("agent crashed again"))
	if err != nil {
		t.Fatalf("Fail (2): %v", err)
	}
	if retryable {
		t.Fatalf("expected retryable=false once MaxAttempts is exhausted")
	}
	got, ok := q.Get(claimed.ID())
	if !ok || got.Status != StatusFailed {
		t.Fatalf("status after terminal failure = %v, want failed", got)
	}
}

func TestFileQueue_CrashRecoveryResurrectsProcessingJobs(t *testing.T) {
	dir := t.TempDir()
	q1, err := NewFileQueue(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFileQueue: %v", err)
	}
	job := New("github", "dlv-4", "issues", "opened", 9, "acme/repo", "bugfix", nil)
	if _, err := q1.Enqueue(job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := q1.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// Simulate a crash: open a fresh queue over the same directory without
	// ever calling Complete/Fail on q1.
	q2, err := NewFileQueue(dir, time.Hour)
	if err != nil {
		t.Fatalf("reopen NewFileQueue: %v", err)
	}
	recovered, err := q2.RecoverCrashed()
	if err != nil {
		t.Fatalf("RecoverCrashed: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("len(recovered) = %d, want 1", len(recovered))
	}
	if recovered[0].Status != StatusPending {
		t.Fatalf("recovered job status = %q, want pending", recovered[0].Status)
	}

	claimed, err := q2.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after recovery: %v", err)
	}
	if claimed.ID() != job.ID() {
		t.Fatalf("recovered job id mismatch")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
