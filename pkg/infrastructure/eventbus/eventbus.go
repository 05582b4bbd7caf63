// Package eventbus provides the in-process implementation of the domain event bus.
// This is the infrastructure adapter for domain.EventBus.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/logger"
)

// defaultHistorySize is the bounded replay/diagnostics buffer spec.md
// §4.6 asks for ("A bounded history buffer (default 100) is maintained
// for replay/diagnostics").
const defaultHistorySize = 100

type subscription struct {
	id        int
	eventType domain.EventType // zero value means a SubscribeAll handler
	handler   domain.EventHandler
}

// InProcessEventBus is a synchronous in-process event bus.
// It dispatches events to registered handlers immediately on Publish(),
// in registration order, matching spec.md §4.6's ordering guarantee.
// For production, this can be swapped for an async/distributed implementation
// (NATS, Redis Streams, etc.) behind the same domain.EventBus interface.
type InProcessEventBus struct {
	mu            sync.RWMutex
	nextID        int
	subscriptions []subscription
	history       []domain.Event
	historySize   int
	closed        bool
}

// New creates a new in-process event bus with the default history size.
func New() *InProcessEventBus {
	return &InProcessEventBus{historySize: defaultHistorySize}
}

// Publish dispatches an event to all matching handlers in registration
// order (typed handlers and SubscribeAll handlers interleaved as
// registered), then appends it to the bounded history buffer. A handler
// that panics is recovered and logged as a dispatch failure rather than
// aborting delivery to the handlers registered after it.
func (b *InProcessEventBus) Publish(event domain.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]subscription, len(b.subscriptions))
	copy(subs, b.subscriptions)
	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.eventType != "" && sub.eventType != event.EventType() {
			continue
		}
		dispatch(sub.handler, event)
	}
}

// dispatch invokes handler, recovering a panic so one crashing subscriber
// never aborts delivery to its siblings (spec.md §4.6).
func dispatch(handler domain.EventHandler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("eventbus", "handler panicked during dispatch", map[string]interface{}{
				"event_type": string(event.EventType()), "panic": fmt.Sprint(r),
			})
		}
	}()
	handler(event)
}

// Subscribe registers a handler for a specific event type and returns a
// subscription id usable with Unsubscribe.
func (b *InProcessEventBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subscriptions = append(b.subscriptions, subscription{id: b.nextID, eventType: eventType, handler: handler})
	return b.nextID
}

// SubscribeAll registers a handler that receives every event.
func (b *InProcessEventBus) SubscribeAll(handler domain.EventHandler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subscriptions = append(b.subscriptions, subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes a single handler by the id Subscribe/SubscribeAll
// returned.
func (b *InProcessEventBus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscriptions {
		if sub.id == id {
			b.subscriptions = append(b.subscriptions[:i], b.subscriptions[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every handler for eventType, or every
// SubscribeAll handler if eventType is empty.
func (b *InProcessEventBus) UnsubscribeAll(eventType domain.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subscriptions[:0]
	for _, sub := range b.subscriptions {
		if sub.eventType == eventType {
			continue
		}
		kept = append(kept, sub)
	}
	b.subscriptions = kept
}

// History returns the last n published events, oldest first. n <= 0
// returns the entire retained buffer.
func (b *InProcessEventBus) History(n int) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]domain.Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// Close marks the bus as closed. No more events will be dispatched.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// PublishAll dispatches multiple events in order (e.g., from
// AggregateRoot.PullEvents).
func (b *InProcessEventBus) PublishAll(events []domain.Event) {
	for _, event := range events {
		b.Publish(event)
	}
}

// HandlerCount returns the total number of registered handlers (for diagnostics).
func (b *InProcessEventBus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Verify interface compliance at compile time.
var _ domain.EventBus = (*InProcessEventBus)(nil)
