package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"estimate_backend/platform/logger"
)

type fakeDeliverer struct {
	failures int
	calls    []Entry
}

func (f *fakeDeliverer) RetryDelivery(_ context.Context, leadID, identity string) error {
	f.calls = append(f.calls, Entry{LeadID: leadID, Identity: identity})
	if f.failures > 0 {
		f.failures--
		return errors.New("push failed")
	}
	return nil
}

func newTestOutbox(maxAttempts int) (*MemoryOutbox, *time.Time) {
	o := NewMemoryOutbox(time.Second, maxAttempts, logger.Discard())
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }
	return o, &now
}

func TestMemoryOutboxDedupesAndWaitsForBackoff(t *testing.T) {
	ctx := context.Background()
	o, now := newTestOutbox(3)
	d := &fakeDeliverer{}

	_ = o.Schedule(ctx, Entry{LeadID: "L1", Identity: "U1"})
	_ = o.Schedule(ctx, Entry{LeadID: "L1", Identity: "U1"})
	if o.Len() != 1 {
		t.Fatalf("expected one queued entry, got %d", o.Len())
	}

	o.ProcessDue(ctx, d)
	if len(d.calls) != 0 {
		t.Fatalf("entry must wait for its backoff")
	}

	*now = now.Add(time.Second)
	o.ProcessDue(ctx, d)
	if len(d.calls) != 1 || o.Len() != 0 {
		t.Fatalf("expected one settled attempt, calls=%d queued=%d", len(d.calls), o.Len())
	}
}

func TestMemoryOutboxRetriesUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	o, now := newTestOutbox(3)
	d := &fakeDeliverer{failures: 10}

	_ = o.Schedule(ctx, Entry{LeadID: "L1", Identity: "U1"})
	for i := 0; i < 10; i++ {
		*now = now.Add(time.Hour)
		o.ProcessDue(ctx, d)
	}

	if len(d.calls) != 3 {
		t.Fatalf("expected 3 bounded attempts, got %d", len(d.calls))
	}
	if o.Len() != 0 {
		t.Fatalf("exhausted entry must be dropped")
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{20, time.Hour},
	}
	for _, tc := range cases {
		if got := Backoff(30*time.Second, tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
