// Package outbox tracks estimate deliveries that failed and must be retried with a
// bounded, backed-off policy.
package outbox

import (
	"context"
	"time"
)

// Entry identifies one pending delivery. Entries are deduplicated by Key.
type Entry struct {
	LeadID   string `json:"leadId"`
	Identity string `json:"identity"`
}

// Key is the dedupe key of the entry.
func (e Entry) Key() string { return e.LeadID + ":" + e.Identity }

// Scheduler enqueues a delivery retry.
type Scheduler interface {
	Schedule(ctx context.Context, entry Entry) error
}

// Deliverer performs one retry attempt. A nil error means the entry is settled
// (delivered, superseded or waiting on the estimate) and must not be retried.
type Deliverer interface {
	RetryDelivery(ctx context.Context, leadID, identity string) error
}

// Backoff returns base doubled per previous attempt, capped at one hour.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	const maxDelay = time.Hour
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
