package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"estimate_backend/internal/line"
	"estimate_backend/platform/logger"
)

// EventHandler is the lead facade as seen from the webhook.
type EventHandler interface {
	HandleFollow(ctx context.Context, identity string) error
	HandleUnfollow(ctx context.Context, identity string) error
	HandleMessage(ctx context.Context, identity, text string) error
}

const seenTTL = 24 * time.Hour

// Dispatcher routes webhook events to the lead facade. LINE redelivers events
// it could not confirm; event ids already handled are skipped.
type Dispatcher struct {
	handler EventHandler
	log     *logger.Logger

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewDispatcher(handler EventHandler, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		log:     log,
		seen:    make(map[string]time.Time),
		now:     time.Now,
	}
}

// Dispatch handles every event in the payload and joins the failures. A failed
// event is forgotten, so when the caller answers non-2xx LINE's redelivery runs
// it again while the events that succeeded are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, payload line.WebhookPayload) error {
	var errs []error
	for _, ev := range payload.Events {
		if ev.Source.Type != "user" || ev.Source.UserID == "" {
			continue
		}
		if ev.WebhookEventID != "" && !d.markSeen(ev.WebhookEventID) {
			d.log.Info("line webhook event already handled", "event_id", ev.WebhookEventID, "redelivery", ev.DeliveryContext.IsRedelivery)
			continue
		}

		if err := d.dispatchOne(ctx, ev); err != nil {
			d.forget(ev.WebhookEventID)
			d.log.Warn("line webhook event failed",
				"event_type", ev.Type,
				"event_id", ev.WebhookEventID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s event %s: %w", ev.Type, ev.WebhookEventID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev line.WebhookEvent) error {
	identity := ev.Source.UserID
	switch ev.Type {
	case line.EventFollow:
		return d.handler.HandleFollow(ctx, identity)
	case line.EventUnfollow:
		return d.handler.HandleUnfollow(ctx, identity)
	case line.EventMessage:
		if ev.Message == nil || ev.Message.Type != "text" {
			return nil
		}
		return d.handler.HandleMessage(ctx, identity, ev.Message.Text)
	default:
		return nil
	}
}

// markSeen records id and reports whether it was new.
func (d *Dispatcher) markSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > seenTTL {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = now
	return true
}

// forget lets a redelivery of a failed event through.
func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}
