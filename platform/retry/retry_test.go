package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"estimate_backend/platform/logger"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), logger.Discard(), "op", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got err=%v calls=%d", err, calls)
	}
}

func TestDoWrapsLastError(t *testing.T) {
	cause := errors.New("refused")
	err := Do(context.Background(), logger.Discard(), "database connection", 2, time.Millisecond, func() error {
		return cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, logger.Discard(), "op", 5, time.Millisecond, func() error {
		calls++
		return errors.New("x")
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Fatalf("expected cancel before any call, got err=%v calls=%d", err, calls)
	}
}

func TestDoRejectsZeroAttempts(t *testing.T) {
	if err := Do(context.Background(), logger.Discard(), "op", 0, time.Millisecond, func() error { return nil }); err == nil {
		t.Fatal("expected error for zero attempts")
	}
}
