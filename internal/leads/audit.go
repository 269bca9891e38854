package leads

import (
	"context"
	"log/slog"

	"estimate_backend/internal/events"
	"estimate_backend/platform/logger"
)

// SubscribeAudit writes one "lead_activity" line per lifecycle event, carrying the
// request and lead ids from the publishing context.
func SubscribeAudit(bus events.Bus, log *logger.Logger) {
	audit := func(ctx context.Context, event events.Event, attrs ...any) {
		args := append([]any{slog.String("event", event.EventName())}, attrs...)
		log.WithContext(ctx).Info("lead_activity", args...)
	}

	bus.Subscribe(events.IdentityLinked{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		if e, ok := event.(events.IdentityLinked); ok {
			audit(ctx, e, slog.String("lead_id", e.LeadID), slog.String("identity", e.Identity))
		}
		return nil
	}))
	bus.Subscribe(events.ChannelFollowed{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		if e, ok := event.(events.ChannelFollowed); ok {
			audit(ctx, e, slog.String("identity", e.Identity), slog.String("lead_hint", e.LeadHint))
		}
		return nil
	}))
	bus.Subscribe(events.ChannelUnfollowed{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		if e, ok := event.(events.ChannelUnfollowed); ok {
			audit(ctx, e, slog.String("identity", e.Identity))
		}
		return nil
	}))
	bus.Subscribe(events.DetailsSubmitted{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		if e, ok := event.(events.DetailsSubmitted); ok {
			audit(ctx, e, slog.Int("photo_count", e.PhotoCount))
		}
		return nil
	}))
}
