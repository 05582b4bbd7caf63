// Package trellosync reconciles skybridge's local kanban.Board with an
// external Kanban provider through Provider, a narrow create/update/move
// interface. Service only ever calls Provider; HTTPProvider (provider.go)
// is this package's implementation of it against Trello's REST API.
//
// Grounded on picoclaw's queue.FileQueue bin-transition pattern: a sync
// operation moves through pending -> in_flight -> done/dead exactly the
// way a webhook job moves through the durable queue, except the backing
// store here is in-memory (sync operations are derived, re-enqueueable
// state, not the source of truth — losing one on a crash only delays a
// card's external mirror, it never loses local data).
package trellosync

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"

	"github.com/h4mn/skybridge/pkg/kanban"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/skyerr"
)

// OpKind is the mutation kind applied to the external provider.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpMove   OpKind = "move"
)

// Op is one queued mutation destined for the external provider.
type Op struct {
	Kind      OpKind
	CardID    string
	Card      kanban.Card
	Timestamp time.Time // for last-write-wins conflict resolution at the provider
	attempts  int
	nextAt    time.Time
}

// Provider is the capability interface an external Kanban board must
// satisfy. HTTPProvider implements it against Trello's REST API; tests
// and other clients can supply their own implementation.
type Provider interface {
	CreateCard(ctx context.Context, card kanban.Card) (externalID string, err error)
	UpdateCard(ctx context.Context, externalID string, card kanban.Card) error
	MoveCard(ctx context.Context, externalID string, listName string) error
}

const (
	maxAttempts  = 8
	baseBackoff  = 2 * time.Second
	maxBackoff   = 5 * time.Minute
	pollInterval = 500 * time.Millisecond
)

// Service is the background sync worker: publishers enqueue Ops and
// return immediately; Run drains the queue against Provider, retrying
// failed operations with exponential backoff instead of blocking the
// publisher on remote I/O.
type Service struct {
	provider Provider
	board    *kanban.Board

	mu      sync.Mutex
	pending *list.List // of *Op, ordered by nextAt eligibility via re-scan
	wake    chan struct{}

	deadMu sync.Mutex
	dead   []*Op
}

// New builds a sync service. board is used to persist the external id
// trellosync learns back (kanban.Board.SetTrelloCardID) once a create
// succeeds.
func New(provider Provider, board *kanban.Board) *Service {
	return &Service{
		provider: provider,
		board:    board,
		pending:  list.New(),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue places a mutation on the work queue. It never blocks on remote
// I/O — the actual provider call happens asynchronously in Run.
func (s *Service) Enqueue(kind OpKind, card kanban.Card) {
	s.mu.Lock()
	s.pending.PushBack(&Op{Kind: kind, CardID: card.ID, Card: card, Timestamp: time.Now().UTC()})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	logger.InfoCF("trellosync", "op enqueued", map[string]interface{}{"kind": string(kind), "card_id": card.ID})
}

// Run drains the queue until ctx is cancelled, applying backoff between
// retries and moving permanently-failing ops to the dead list after
// maxAttempts.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.drainReady(ctx)
		case <-ticker.C:
			s.drainReady(ctx)
		}
	}
}

func (s *Service) drainReady(ctx context.Context) {
	for {
		op := s.popReady()
		if op == nil {
			return
		}
		if err := s.apply(ctx, op); err != nil {
			s.retryOrKill(op, err)
		}
	}
}

// popReady removes and returns the first op whose backoff has elapsed, or
// nil if the queue is empty or every op is still waiting.
func (s *Service) popReady() *Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for e := s.pending.Front(); e != nil; e = e.Next() {
		op := e.Value.(*Op)
		if op.nextAt.IsZero() || !now.Before(op.nextAt) {
			s.pending.Remove(e)
			return op
		}
	}
	return nil
}

func (s *Service) apply(ctx context.Context, op *Op) error {
	switch op.Kind {
	case OpCreate:
		externalID, err := s.provider.CreateCard(ctx, op.Card)
		if err != nil {
			return err
		}
		if s.board != nil {
			if err := s.board.SetTrelloCardID(op.CardID, externalID); err != nil {
				logger.WarnCF("trellosync", "failed to persist external id", map[string]interface{}{"card_id": op.CardID, "error": err.Error()})
			}
		}
	case OpUpdate:
		externalID := externalIDOf(op.Card)
		if externalID == "" {
			return skyerr.New(skyerr.KindInvalid, "Service.apply", "update op without a known external id")
		}
		return s.provider.UpdateCard(ctx, externalID, op.Card)
	case OpMove:
		externalID := externalIDOf(op.Card)
		if externalID == "" {
			return skyerr.New(skyerr.KindInvalid, "Service.apply", "move op without a known external id")
		}
		return s.provider.MoveCard(ctx, externalID, op.Card.ListName)
	}
	return nil
}

func externalIDOf(card kanban.Card) string {
	if card.TrelloCardID == nil {
		return ""
	}
	return *card.TrelloCardID
}

func (s *Service) retryOrKill(op *Op, cause error) {
	op.attempts++
	if op.attempts >= maxAttempts {
		s.deadMu.Lock()
		s.dead = append(s.dead, op)
		s.deadMu.Unlock()
		logger.ErrorCF("trellosync", "op exhausted retries", map[string]interface{}{
			"card_id": op.CardID, "kind": string(op.Kind), "attempts": op.attempts, "error": cause.Error(),
		})
		return
	}
	op.nextAt = time.Now().Add(backoff(op.attempts))
	s.mu.Lock()
	s.pending.PushBack(op)
	s.mu.Unlock()
	logger.WarnCF("trellosync", "op failed, will retry", map[string]interface{}{
		"card_id": op.CardID, "kind": string(op.Kind), "attempts": op.attempts, "retry_in": backoff(op.attempts).String(),
	})
}

// backoff computes an exponential delay capped at maxBackoff: baseBackoff
// * 2^(attempt-1).
func backoff(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// DeadLetters returns the ops that exhausted every retry, for inspection
// or manual replay.
func (s *Service) DeadLetters() []*Op {
	s.deadMu.Lock()
	defer s.deadMu.Unlock()
	out := make([]*Op, len(s.dead))
	copy(out, s.dead)
	return out
}

// PendingCount reports the current queue depth, for health checks.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}
