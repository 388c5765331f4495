package mv

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestCollectorTriggerCollectionRateLimits(t *testing.T) {
	c := NewCollector(nil, func(context.Context) map[string]bool { return nil }, time.Hour, time.Hour, noopLogger())
	c.lastTrigger = time.Now()

	if _, err := c.TriggerCollection(context.Background()); err != ErrCollectionRateLimited {
		t.Fatalf("expected rate limit error immediately after a previous trigger, got %v", err)
	}
}

func TestCollectorTriggerCollectionSucceedsAfterCooldown(t *testing.T) {
	c := NewCollector(nil, func(context.Context) map[string]bool { return nil }, time.Hour, time.Hour, noopLogger())
	c.lastTrigger = time.Now().Add(-time.Minute)

	result, err := c.TriggerCollection(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RanAt.IsZero() {
		t.Error("expected RanAt to be set")
	}
}

func TestCollectorIntervalReturnsConfiguredValue(t *testing.T) {
	c := NewCollector(nil, func(context.Context) map[string]bool { return nil }, 5*time.Minute, time.Hour, noopLogger())
	if c.Interval() != 5*time.Minute {
		t.Errorf("Interval() = %v, want 5m", c.Interval())
	}
}

func TestCollectorStartStopDoesNotBlock(t *testing.T) {
	c := NewCollector(nil, func(context.Context) map[string]bool { return nil }, time.Millisecond, time.Hour, noopLogger())
	ctx := context.Background()
	c.Start(ctx)
	time.Sleep(5 * time.Millisecond)
	c.Stop()
}
