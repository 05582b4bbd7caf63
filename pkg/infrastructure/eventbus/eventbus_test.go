package eventbus

import (
	"testing"

	"github.com/h4mn/skybridge/pkg/domain"
)

func TestPublish_DispatchesInRegistrationOrderAcrossTypedAndGlobalHandlers(t *testing.T) {
	bus := New()
	var order []string
	bus.Subscribe(domain.EventJobCompleted, func(domain.Event) { order = append(order, "typed") })
	bus.SubscribeAll(func(domain.Event) { order = append(order, "global") })

	bus.Publish(domain.NewEvent(domain.EventJobCompleted, domain.NewID(), nil))

	if len(order) != 2 || order[0] != "typed" || order[1] != "global" {
		t.Fatalf("dispatch order = %v, want [typed global]", order)
	}
}

func TestPublish_SkipsHandlersForOtherEventTypes(t *testing.T) {
	bus := New()
	called := false
	bus.Subscribe(domain.EventJobFailed, func(domain.Event) { called = true })

	bus.Publish(domain.NewEvent(domain.EventJobCompleted, domain.NewID(), nil))

	if called {
		t.Fatalf("handler for a different event type should not fire")
	}
}

func TestPublish_RecoversFromPanickingHandler(t *testing.T) {
	bus := New()
	secondCalled := false
	bus.SubscribeAll(func(domain.Event) { panic("boom") })
	bus.SubscribeAll(func(domain.Event) { secondCalled = true })

	bus.Publish(domain.NewEvent(domain.EventJobCompleted, domain.NewID(), nil))

	if !secondCalled {
		t.Fatalf("a panicking handler must not prevent delivery to siblings")
	}
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	bus := New()
	calls := 0
	id := bus.Subscribe(domain.EventJobCompleted, func(domain.Event) { calls++ })

	bus.Publish(domain.NewEvent(domain.EventJobCompleted, domain.NewID(), nil))
	bus.Unsubscribe(id)
	bus.Publish(domain.NewEvent(domain.EventJobCompleted, domain.NewID(), nil))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (unsubscribed before second publish)", calls)
	}
}

func TestHistory_ReturnsLastNEventsOldestFirstAndIsBounded(t *testing.T) {
	bus := New()
	bus.historySize = 3
	for i := 0; i < 5; i++ {
		bus.Publish(domain.NewEvent(domain.EventJobCompleted, domain.NewID(), i))
	}
	hist := bus.History(10)
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3 (bounded)", len(hist))
	}
	if hist[0].Payload() != 2 || hist[2].Payload() != 4 {
		t.Fatalf("history not oldest-first over the retained window: %+v", hist)
	}
}

func TestClose_StopsDispatch(t *testing.T) {
	bus := New()
	called := false
	bus.SubscribeAll(func(domain.Event) { called = true })
	bus.Close()
	bus.Publish(domain.NewEvent(domain.EventJobCompleted, domain.NewID(), nil))
	if called {
		t.Fatalf("closed bus must not dispatch")
	}
}
