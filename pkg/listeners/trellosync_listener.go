package listeners

import (
	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/kanban"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/trellosync"
)

// trelloEnqueuer is the slice of trellosync.Service this listener needs,
// narrowed so tests can fake it without a real Provider.
type trelloEnqueuer interface {
	Enqueue(kind trellosync.OpKind, card kanban.Card)
}

// TrelloSyncListener bridges kanban.Board's own domain events to the
// Trello outbox: it never touches the board directly, only reacts to
// what it already published, keeping the board ignorant of whether an
// external sync is even enabled per spec.md §4.7.
type TrelloSyncListener struct {
	board *kanban.Board
	sync  trelloEnqueuer
}

// NewTrelloSyncListener binds a listener to board and the sync service
// that will drain queued card mutations toward the external provider.
func NewTrelloSyncListener(board *kanban.Board, sync trelloEnqueuer) *TrelloSyncListener {
	return &TrelloSyncListener{board: board, sync: sync}
}

// Subscribe registers this listener's handlers on bus.
func (l *TrelloSyncListener) Subscribe(bus domain.EventBus) {
	bus.Subscribe(domain.EventCardCreated, l.onCardCreated)
	bus.Subscribe(domain.EventCardTransitioned, l.onCardTransitioned)
}

func (l *TrelloSyncListener) onCardCreated(evt domain.Event) {
	card, ok := l.lookupCard(evt)
	if !ok {
		return
	}
	l.sync.Enqueue(trellosync.OpCreate, *card)
}

func (l *TrelloSyncListener) onCardTransitioned(evt domain.Event) {
	card, ok := l.lookupCard(evt)
	if !ok {
		return
	}
	if card.TrelloCardID == nil {
		l.sync.Enqueue(trellosync.OpCreate, *card)
		return
	}
	l.sync.Enqueue(trellosync.OpMove, *card)
}

func (l *TrelloSyncListener) lookupCard(evt domain.Event) (*kanban.Card, bool) {
	cardID := string(evt.AggregateID())
	if cardID == "" {
		return nil, false
	}
	card, err := l.board.GetCard(cardID)
	if err != nil {
		logger.WarnCF("listeners", "trello sync card lookup failed", map[string]interface{}{"card_id": cardID, "error": err.Error()})
		return nil, false
	}
	return card, true
}
