package outbox

import (
	"context"
	"sync"
	"time"

	"estimate_backend/platform/logger"
)

type pendingEntry struct {
	Entry
	attempts int
	due      time.Time
}

// MemoryOutbox keeps retries in process. It is used when no Redis is configured.
type MemoryOutbox struct {
	mu          sync.Mutex
	entries     map[string]*pendingEntry
	baseDelay   time.Duration
	maxAttempts int
	log         *logger.Logger
	now         func() time.Time
}

func NewMemoryOutbox(baseDelay time.Duration, maxAttempts int, log *logger.Logger) *MemoryOutbox {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &MemoryOutbox{
		entries:     make(map[string]*pendingEntry),
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		log:         log,
		now:         time.Now,
	}
}

// Schedule adds entry unless it is already queued.
func (o *MemoryOutbox) Schedule(_ context.Context, entry Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[entry.Key()]; ok {
		return nil
	}
	o.entries[entry.Key()] = &pendingEntry{Entry: entry, due: o.now().Add(Backoff(o.baseDelay, 1))}
	return nil
}

// Len reports the number of queued entries.
func (o *MemoryOutbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Run processes due entries every interval until ctx is cancelled.
func (o *MemoryOutbox) Run(ctx context.Context, d Deliverer, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ProcessDue(ctx, d)
		}
	}
}

// ProcessDue attempts every entry whose backoff has elapsed.
func (o *MemoryOutbox) ProcessDue(ctx context.Context, d Deliverer) {
	now := o.now()
	o.mu.Lock()
	due := make([]*pendingEntry, 0, len(o.entries))
	for key, e := range o.entries {
		if !e.due.After(now) {
			due = append(due, e)
			delete(o.entries, key)
		}
	}
	o.mu.Unlock()

	for _, e := range due {
		e.attempts++
		err := d.RetryDelivery(ctx, e.LeadID, e.Identity)
		if err == nil {
			continue
		}
		if e.attempts >= o.maxAttempts {
			o.log.Error("delivery retries exhausted", "lead_id", e.LeadID, "identity", e.Identity, "attempts", e.attempts, "error", err)
			continue
		}
		e.due = o.now().Add(Backoff(o.baseDelay, e.attempts+1))

		o.mu.Lock()
		if _, queued := o.entries[e.Key()]; !queued {
			o.entries[e.Key()] = e
		}
		o.mu.Unlock()
	}
}

var _ Scheduler = (*MemoryOutbox)(nil)
