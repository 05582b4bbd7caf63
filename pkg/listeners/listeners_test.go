package listeners

import (
	"testing"
	"time"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/infrastructure/eventbus"
	"github.com/h4mn/skybridge/pkg/kanban"
	"github.com/h4mn/skybridge/pkg/trellosync"
)

func newTestBoard(t *testing.T) *kanban.Board {
	t.Helper()
	board, err := kanban.Open(t.TempDir()+"/kanban.db", nil)
	if err != nil {
		t.Fatalf("kanban.Open: %v", err)
	}
	t.Cleanup(func() { board.Close() })
	return board
}

func TestKanbanListener_JobDequeuedStartsProcessing(t *testing.T) {
	board := newTestBoard(t)
	bus := eventbus.New()
	defer bus.Close()
	NewKanbanListener(board).Subscribe(bus)

	bus.Publish(domain.NewEvent(domain.EventJobDequeued, domain.NewID(), map[string]interface{}{
		"issue_number": 5, "agent_type": "resolve-issue", "job_id": "job-1", "title": "fix the bug",
	}))

	card, err := board.GetCardByIssueNumber(5)
	if err != nil {
		t.Fatalf("GetCardByIssueNumber: %v", err)
	}
	if card == nil || !card.BeingProcessed {
		t.Fatalf("expected card being_processed after JobDequeued, got %+v", card)
	}
}

func TestKanbanListener_JobCompletedClearsProcessing(t *testing.T) {
	board := newTestBoard(t)
	bus := eventbus.New()
	defer bus.Close()
	NewKanbanListener(board).Subscribe(bus)

	bus.Publish(domain.NewEvent(domain.EventJobDequeued, domain.NewID(), map[string]interface{}{
		"issue_number": 6, "agent_type": "resolve-issue", "job_id": "job-2", "title": "x",
	}))
	bus.Publish(domain.NewEvent(domain.EventJobCompleted, domain.NewID(), map[string]interface{}{"job_id": "job-2"}))

	card, err := board.GetCardByIssueNumber(6)
	if err != nil {
		t.Fatalf("GetCardByIssueNumber: %v", err)
	}
	if card.BeingProcessed {
		t.Fatalf("expected being_processed cleared after JobCompleted")
	}
}

func TestMetricsListener_TracksLatencyAndSuccessRate(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	ml := NewMetricsListener()
	ml.Subscribe(bus)

	id := domain.NewID()
	bus.Publish(domain.NewEvent(domain.EventJobDequeued, id, map[string]interface{}{}))
	time.Sleep(time.Millisecond)
	bus.Publish(domain.NewEvent(domain.EventJobCompleted, id, map[string]interface{}{}))

	report := ml.Report()
	if report.TotalJobs != 1 || report.CompletedJobs != 1 {
		t.Fatalf("report = %+v, want 1 total/1 completed", report)
	}
	if report.SuccessRate != 1.0 {
		t.Fatalf("success rate = %v, want 1.0", report.SuccessRate)
	}
}

func TestMetricsListener_RetryableFailureIsNotTerminal(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	ml := NewMetricsListener()
	ml.Subscribe(bus)

	id := domain.NewID()
	bus.Publish(domain.NewEvent(domain.EventJobDequeued, id, map[string]interface{}{}))
	bus.Publish(domain.NewEvent(domain.EventJobFailed, id, map[string]interface{}{"retryable": true}))

	report := ml.Report()
	if report.CompletedJobs != 0 || report.FailedJobs != 0 {
		t.Fatalf("retryable failure should not be terminal, got %+v", report)
	}
}

type fakeEnqueuer struct {
	calls []trellosync.OpKind
}

func (f *fakeEnqueuer) Enqueue(kind trellosync.OpKind, card kanban.Card) {
	f.calls = append(f.calls, kind)
}

func TestTrelloSyncListener_CardCreatedEnqueuesCreate(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	board, err := kanban.Open(t.TempDir()+"/kanban.db", bus)
	if err != nil {
		t.Fatalf("kanban.Open: %v", err)
	}
	defer board.Close()

	fake := &fakeEnqueuer{}
	NewTrelloSyncListener(board, fake).Subscribe(bus)

	if _, err := board.EnsureCard(42, "", "write docs"); err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}

	if len(fake.calls) != 1 || fake.calls[0] != trellosync.OpCreate {
		t.Fatalf("calls = %v, want [OpCreate]", fake.calls)
	}
}

func TestTrelloSyncListener_TransitionWithKnownExternalIDEnqueuesMove(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	board, err := kanban.Open(t.TempDir()+"/kanban.db", bus)
	if err != nil {
		t.Fatalf("kanban.Open: %v", err)
	}
	defer board.Close()

	card, err := board.EnsureCard(7, "", "fix bug")
	if err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}
	if err := board.SetTrelloCardID(card.ID, "trello-ext-1"); err != nil {
		t.Fatalf("SetTrelloCardID: %v", err)
	}

	fake := &fakeEnqueuer{}
	NewTrelloSyncListener(board, fake).Subscribe(bus)

	if _, err := board.StartProcessing(7, "", "fix bug", "resolve-issue", "job-3"); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}

	if len(fake.calls) != 1 || fake.calls[0] != trellosync.OpMove {
		t.Fatalf("calls = %v, want [OpMove]", fake.calls)
	}
}
