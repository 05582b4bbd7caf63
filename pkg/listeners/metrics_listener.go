package listeners

import (
	"sort"
	"sync"
	"time"

	"github.com/h4mn/skybridge/pkg/domain"
)

// slidingWindow bounds how far back latency samples are retained before
// Report computes percentiles over them, per spec.md §4.6 ("sliding windows, default 1
// hour").
const slidingWindow = time.Hour

type latencySample struct {
	at time.Time
	d  time.Duration
}

// MetricsListener subscribes to JobDequeued, JobCompleted and JobFailed and maintains
// running counters plus a sliding-window latency distribution, the data
// GET /metrics reports per spec.md §6.
type MetricsListener struct {
	mu sync.Mutex

	totalJobs      int
	completedJobs  int
	failedJobs     int
	startedAt      map[domain.EntityID]time.Time
	latencySamples []latencySample
}

// NewMetricsListener creates an empty metrics aggregator.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{startedAt: make(map[domain.EntityID]time.Time)}
}

// Subscribe registers this listener's handlers on bus.
func (m *MetricsListener) Subscribe(bus domain.EventBus) {
	bus.Subscribe(domain.EventJobDequeued, m.onJobDequeued)
	bus.Subscribe(domain.EventJobCompleted, m.onJobCompleted)
	bus.Subscribe(domain.EventJobFailed, m.onJobFailed)
}

func (m *MetricsListener) onJobDequeued(evt domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalJobs++
	m.startedAt[evt.AggregateID()] = evt.OccurredAt()
}

func (m *MetricsListener) onJobCompleted(evt domain.Event) {
	m.recordTerminal(evt, true)
}

func (m *MetricsListener) onJobFailed(evt domain.Event) {
	data, ok := evt.Payload().(map[string]interface{})
	if ok {
		if retryable, ok := data["retryable"].(bool); ok && retryable {
			return // not terminal yet; the job was re-enqueued
		}
	}
	m.recordTerminal(evt, false)
}

func (m *MetricsListener) recordTerminal(evt domain.Event, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.completedJobs++
	} else {
		m.failedJobs++
	}
	start, ok := m.startedAt[evt.AggregateID()]
	if !ok {
		return
	}
	delete(m.startedAt, evt.AggregateID())
	m.latencySamples = append(m.latencySamples, latencySample{at: evt.OccurredAt(), d: evt.OccurredAt().Sub(start)})
	m.evictExpiredLocked(evt.OccurredAt())
}

func (m *MetricsListener) evictExpiredLocked(now time.Time) {
	cutoff := now.Add(-slidingWindow)
	i := 0
	for ; i < len(m.latencySamples); i++ {
		if m.latencySamples[i].at.After(cutoff) {
			break
		}
	}
	m.latencySamples = m.latencySamples[i:]
}

// Snapshot is the point-in-time metrics report for GET /metrics.
type Snapshot struct {
	TotalJobs     int           `json:"total_jobs"`
	CompletedJobs int           `json:"completed_jobs"`
	FailedJobs    int           `json:"failed_jobs"`
	SuccessRate   float64       `json:"success_rate"`
	P50           time.Duration `json:"p50_ms"`
	P95           time.Duration `json:"p95_ms"`
	P99           time.Duration `json:"p99_ms"`
}

// Report computes the current Snapshot, percentiles over whatever latency
// samples remain inside the sliding window.
func (m *MetricsListener) Report() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	terminal := m.completedJobs + m.failedJobs
	successRate := 0.0
	if terminal > 0 {
		successRate = float64(m.completedJobs) / float64(terminal)
	}

	durations := make([]time.Duration, len(m.latencySamples))
	for i, s := range m.latencySamples {
		durations[i] = s.d
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	return Snapshot{
		TotalJobs:     m.totalJobs,
		CompletedJobs: m.completedJobs,
		FailedJobs:    m.failedJobs,
		SuccessRate:   successRate,
		P50:           percentile(durations, 0.50),
		P95:           percentile(durations, 0.95),
		P99:           percentile(durations, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
