package records

import (
	"context"

	"estimate_backend/internal/events"
)

// Subscribe records every lead whose details were submitted.
func (s *Sink) Subscribe(bus events.Bus) {
	bus.Subscribe(events.DetailsSubmitted{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.DetailsSubmitted)
		if !ok {
			return nil
		}
		s.Record(ctx, e.Lead, e.Photos)
		return nil
	}))
}
