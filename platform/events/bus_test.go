package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"estimate_backend/platform/logger"
)

type pingEvent struct {
	BaseEvent
}

func (pingEvent) EventName() string { return "test.ping" }

func TestPublishSyncRunsHandlersInOrderAndJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	var order []int
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		order = append(order, 1)
		return errors.New("first failed")
	}))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		order = append(order, 2)
		return nil
	}))

	err := bus.PublishSync(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	if err == nil {
		t.Fatalf("expected joined error from first handler")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers to run in order [1 2], got %v", order)
	}
}

func TestPublishIgnoresOtherEventNames(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	var calls atomic.Int32
	bus.Subscribe("test.other", HandlerFunc(func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}))
	bus.Subscribe("test.ping", HandlerFunc(func(context.Context, Event) error {
		calls.Add(10)
		return nil
	}))

	bus.Publish(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	bus.Wait()

	if got := calls.Load(); got != 10 {
		t.Fatalf("expected only the ping handler to run, got counter %d", got)
	}
}

func TestBaseEventCarriesUniqueID(t *testing.T) {
	a := pingEvent{BaseEvent: NewBaseEvent()}
	b := pingEvent{BaseEvent: NewBaseEvent()}
	if eventID(a) == "" || eventID(a) == eventID(b) {
		t.Fatalf("expected distinct ids, got %q and %q", eventID(a), eventID(b))
	}
	if a.OccurredAt().IsZero() {
		t.Fatal("timestamp not set")
	}
}
