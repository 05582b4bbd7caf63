package trellosync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/h4mn/skybridge/pkg/kanban"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

type fakeProvider struct {
	mu          sync.Mutex
	failUntil   int
	calls       int
	createdIDs  []string
	updated     []string
	moved       []string
}

func (f *fakeProvider) CreateCard(ctx context.Context, card kanban.Card) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return "", skyerr.New(skyerr.KindUnavailable, "fakeProvider.CreateCard", "simulated outage")
	}
	f.createdIDs = append(f.createdIDs, card.ID)
	return "trello-" + card.ID, nil
}

func (f *fakeProvider) UpdateCard(ctx context.Context, externalID string, card kanban.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, externalID)
	return nil
}

func (f *fakeProvider) MoveCard(ctx context.Context, externalID string, listName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moved = append(f.moved, externalID+"->"+listName)
	return nil
}

func TestService_CreateSucceedsAndPersistsExternalID(t *testing.T) {
	board := newTestBoard(t)
	provider := &fakeProvider{}
	svc := New(provider, board)

	card, err := board.EnsureCard(1, "", "a card")
	if err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}
	svc.Enqueue(OpCreate, *card)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reloaded, err := board.GetCard(card.ID)
		if err != nil {
			t.Fatalf("GetCard: %v", err)
		}
		if reloaded.TrelloCardID != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("external id was never persisted")
}

func TestService_RetriesWithBackoffAfterTransientFailure(t *testing.T) {
	board := newTestBoard(t)
	provider := &fakeProvider{failUntil: 2} // first two attempts fail
	svc := New(provider, board)

	card, err := board.EnsureCard(2, "", "flaky card")
	if err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}
	svc.Enqueue(OpCreate, *card)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	// Two failures back off 2s then 4s, so the third attempt lands after ~6s.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		reloaded, err := board.GetCard(card.ID)
		if err != nil {
			t.Fatalf("GetCard: %v", err)
		}
		if reloaded.TrelloCardID != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("card never synced despite retries")
}

func TestBackoff_GrowsExponentiallyAndCaps(t *testing.T) {
	if backoff(1) != baseBackoff {
		t.Errorf("backoff(1) = %v, want %v", backoff(1), baseBackoff)
	}
	if backoff(2) != baseBackoff*2 {
		t.Errorf("backoff(2) = %v, want %v", backoff(2), baseBackoff*2)
	}
	if backoff(20) != maxBackoff {
		t.Errorf("backoff(20) = %v, want capped at %v", backoff(20), maxBackoff)
	}
}

func TestDeadLetters_CapturesOpsThatExhaustRetries(t *testing.T) {
	board := newTestBoard(t)
	provider := &fakeProvider{failUntil: maxAttempts + 10} // never succeeds
	svc := New(provider, board)

	card, err := board.EnsureCard(3, "", "doomed card")
	if err != nil {
		t.Fatalf("EnsureCard: %v", err)
	}
	op := &Op{Kind: OpCreate, CardID: card.ID, Card: *card}
	for i := 0; i < maxAttempts; i++ {
		svc.retryOrKill(op, skyerr.New(skyerr.KindUnavailable, "test", "forced failure"))
	}
	if len(svc.DeadLetters()) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(svc.DeadLetters()))
	}
}

func newTestBoard(t *testing.T) *kanban.Board {
	t.Helper()
	dbPath := t.TempDir() + "/kanban.db"
	b, err := kanban.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("kanban.Open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}
