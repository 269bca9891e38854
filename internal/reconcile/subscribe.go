package reconcile

import (
	"context"

	"estimate_backend/internal/events"
)

// Subscribe wires the reconciler to the estimate trigger on the bus.
func (r *Reconciler) Subscribe(bus events.Bus) {
	bus.Subscribe(events.EstimateReady{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.EstimateReady)
		if !ok {
			return nil
		}
		return r.OnEstimateReady(ctx, e.LeadID)
	}))
}
