package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// FileQueue is a crash-safe job queue: each job is one JSON file that lives
// in exactly one of four bin subdirectories (pending/, processing/,
// completed/, failed/ — plus cleanup_failed/ for the non-retryable
// teardown-failure terminal state). A transition is an os.Rename of that
// file from one bin to another, which is atomic on any POSIX filesystem the
// two directories share. Writes are durable via write-tempfile-then-rename
// so a crash mid-write never leaves a half-written job file behind.
//
// This is adapted from picoclaw's infrastructure/persistence.JSONStore[T]
// single-directory pattern, split across bins so a directory listing of
// processing/ at startup is exactly the crash-recovery sweep.
type FileQueue struct {
	baseDir  string
	dedupTTL time.Duration

	mu    sync.Mutex
	dedup map[string]time.Time

	wake chan struct{}
}

const (
	binPending       = "pending"
	binProcessing    = "processing"
	binCompleted     = "completed"
	binFailed        = "failed"
	binCleanupFailed = "cleanup_failed"
)

var allBins = []string{binPending, binProcessing, binCompleted, binFailed, binCleanupFailed}

// NewFileQueue opens (creating if necessary) a file-backed queue rooted at
// baseDir and rebuilds its delivery-id dedup index by scanning every bin.
func NewFileQueue(baseDir string, dedupTTL time.Duration) (*FileQueue, error) {
	for _, bin := range allBins {
		if err := os.MkdirAll(filepath.Join(baseDir, bin), 0o755); err != nil {
			return nil, skyerr.Wrap(skyerr.KindUnavailable, "NewFileQueue", "create bin directory", err)
		}
	}
	q := &FileQueue{
		baseDir:  baseDir,
		dedupTTL: dedupTTL,
		dedup:    make(map[string]time.Time),
		wake:     make(chan struct{}, 1),
	}
	if err := q.rebuildDedupIndex(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *FileQueue) rebuildDedupIndex() error {
	for _, bin := range allBins {
		jobs, err := q.listBin(bin)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			q.dedup[j.DeliveryID] = j.CreatedAt.Time
		}
	}
	return nil
}

func (q *FileQueue) binPath(bin string, id domain.EntityID) string {
	return filepath.Join(q.baseDir, bin, string(id)+".json")
}

func (q *FileQueue) writeAtomic(bin string, job *WebhookJob) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "FileQueue.writeAtomic", "marshal job", err)
	}
	dst := q.binPath(bin, job.ID())
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "FileQueue.writeAtomic", "write temp file", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "FileQueue.writeAtomic", "rename into place", err)
	}
	return nil
}

func (q *FileQueue) readJob(bin string, id domain.EntityID) (*WebhookJob, error) {
	data, err := os.ReadFile(q.binPath(bin, id))
	if err != nil {
		return nil, err
	}
	var job WebhookJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *FileQueue) listBin(bin string) ([]*WebhookJob, error) {
	entries, err := os.ReadDir(filepath.Join(q.baseDir, bin))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "FileQueue.listBin", "read bin directory", err)
	}
	var jobs []*WebhookJob
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(q.baseDir, bin, e.Name()))
		if err != nil {
			continue
		}
		var job WebhookJob
		if err := json.Unmarshal(data, &job); err != nil {
			logger.WarnCF("queue", "skipping unreadable job file", map[string]interface{}{"file": e.Name(), "error": err.Error()})
			continue
		}
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Time.Before(jobs[j].CreatedAt.Time) })
	return jobs, nil
}

// moveBin renames a job's file from one bin to another. It assumes the
// caller already mutated the in-memory job struct to reflect the new state
// and re-serializes before the rename so the file on disk never disagrees
// with the directory it lives in.
func (q *FileQueue) moveBin(from, to string, job *WebhookJob) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return skyerr.Wrap(skyerr.KindInternal, "FileQueue.moveBin", "marshal job", err)
	}
	tmp := q.binPath(to, job.ID()) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "FileQueue.moveBin", "write temp file in destination bin", err)
	}
	if err := os.Rename(tmp, q.binPath(to, job.ID())); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "FileQueue.moveBin", "rename into destination bin", err)
	}
	if err := os.Remove(q.binPath(from, job.ID())); err != nil && !os.IsNotExist(err) {
		return skyerr.Wrap(skyerr.KindUnavailable, "FileQueue.moveBin", "remove source bin file", err)
	}
	return nil
}

func (q *FileQueue) Enqueue(job *WebhookJob) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredDedupLocked()
	if _, seen := q.dedup[job.DeliveryID]; seen {
		return true, nil
	}
	if err := q.writeAtomic(binPending, job); err != nil {
		return false, err
	}
	q.dedup[job.DeliveryID] = time.Now()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return false, nil
}

func (q *FileQueue) evictExpiredDedupLocked() {
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

// Dequeue polls the pending bin, claiming the oldest job by renaming it into
// processing/. Polling (rather than an fsnotify watch) keeps the dependency
// surface to the standard library; the wake channel short-circuits the
// sleep whenever Enqueue just ran in this same process.
func (q *FileQueue) Dequeue(ctx context.Context) (*WebhookJob, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if job, err := q.tryClaim(); err != nil {
			return nil, err
		} else if job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

func (q *FileQueue) tryClaim() (*WebhookJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.listBin(binPending)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	job := jobs[0]
	if err := job.MarkProcessing(); err != nil {
		return nil, err
	}
	if err := q.moveBin(binPending, binProcessing, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *FileQueue) Complete(jobID domain.EntityID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.readJob(binProcessing, jobID)
	if err != nil {
		return skyerr.Wrap(skyerr.KindNotFound, "FileQueue.Complete", "job not in processing bin", err)
	}
	if err := job.MarkCompleted(); err != nil {
		return err
	}
	return q.moveBin(binProcessing, binCompleted, job)
}

func (q *FileQueue) Fail(jobID domain.EntityID, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.readJob(binProcessing, jobID)
	if err != nil {
		return false, skyerr.Wrap(skyerr.KindNotFound, "FileQueue.Fail", "job not in processing bin", err)
	}
	retryable := job.MarkFailed(cause)
	if retryable {
		if err := job.ResetForRetry(); err != nil {
			return false, err
		}
		if err := q.moveBin(binProcessing, binPending, job); err != nil {
			return false, err
		}
		select {
		case q.wake <- struct{}{}:
		default:
		}
		return true, nil
	}
	return false, q.moveBin(binProcessing, binFailed, job)
}

func (q *FileQueue) MarkCleanupFailed(jobID domain.EntityID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.readJob(binCompleted, jobID)
	if err != nil {
		return skyerr.Wrap(skyerr.KindNotFound, "FileQueue.MarkCleanupFailed", "job not in completed bin", err)
	}
	job.MarkCleanupFailed(cause)
	return q.moveBin(binCompleted, binCleanupFailed, job)
}

func (q *FileQueue) ExistsByDeliveryID(deliveryID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredDedupLocked()
	_, ok := q.dedup[deliveryID]
	return ok
}

// RecoverCrashed scans the processing bin — every job found there was
// claimed by a worker that never called Complete or Fail, almost always
// because the process died mid-job. Each is resurrected back to pending.
func (q *FileQueue) RecoverCrashed() ([]*WebhookJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stuck, err := q.listBin(binProcessing)
	if err != nil {
		return nil, err
	}
	recovered := make([]*WebhookJob, 0, len(stuck))
	for _, job := range stuck {
		job.Resurrect()
		if err := q.moveBin(binProcessing, binPending, job); err != nil {
			logger.ErrorCF("queue", "failed to resurrect crashed job", map[string]interface{}{
				"job_id": job.ID().String(),
				"error":  err.Error(),
			})
			continue
		}
		recovered = append(recovered, job)
	}
	if len(recovered) > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return recovered, nil
}

func (q *FileQueue) Get(jobID domain.EntityID) (*WebhookJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, bin := range allBins {
		if job, err := q.readJob(bin, jobID); err == nil {
			return job, true
		}
	}
	return nil, false
}

func (q *FileQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs, err := q.listBin(binPending)
	if err != nil {
		return 0
	}
	return len(jobs)
}

var _ Queue = (*FileQueue)(nil)
