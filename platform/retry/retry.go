// Package retry runs startup operations (migrations, connections, bucket checks)
// against infrastructure that may still be coming up.
package retry

import (
	"context"
	"fmt"
	"time"

	"estimate_backend/platform/logger"
)

// Do calls fn up to attempts times, sleeping attempt² × baseDelay between tries.
// It gives up early when ctx is cancelled.
func Do(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", lastErr)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * baseDelay):
			}
		}
	}
	return fmt.Errorf("%s: %w", name, lastErr)
}
