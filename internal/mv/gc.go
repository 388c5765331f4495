package mv

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCollectionRateLimited is returned when TriggerCollection is called more
// often than the cooldown allows.
var ErrCollectionRateLimited = errors.New("mv: orphan collection rate limited")

// CollectionResult reports the outcome of one orphan-sweep pass.
type CollectionResult struct {
	RanAt           time.Time
	NextScheduledAt time.Time
}

// LiveSessionsFunc returns the set of session IDs the host still considers
// open. Views whose session is absent from this set and that are older than
// MaxAge are dropped by the next sweep.
type LiveSessionsFunc func(ctx context.Context) map[string]bool

// Collector periodically sweeps every backend's materialized views and drops
// the ones that no longer belong to a live session. One Collector fans out
// to every dialect-specific Manager sharing the same temp schema lifecycle.
type Collector struct {
	managers     []*Manager
	liveSessions LiveSessionsFunc
	interval     time.Duration
	maxAge       time.Duration
	logger       *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	lastTrigger  time.Time
	triggerMutex sync.Mutex

	sweepMutex sync.Mutex

	nextSweep time.Time
	nextMu    sync.RWMutex
}

// NewCollector builds a Collector over managers, one per backend dialect in
// play. maxAge bounds how long a session's views survive once it drops off
// liveSessions's returned set, guarding against a host crash leaving orphans
// forever.
func NewCollector(managers []*Manager, liveSessions LiveSessionsFunc, interval, maxAge time.Duration, logger *slog.Logger) *Collector {
	return &Collector{
		managers:     managers,
		liveSessions: liveSessions,
		interval:     interval,
		maxAge:       maxAge,
		logger:       logger,
		stopCh:       make(chan struct{}),
		lastTrigger:  time.Now().Add(-31 * time.Second),
	}
}

// Start begins the periodic sweep loop.
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("starting materialized view orphan collector", "interval", c.interval, "max_age", c.maxAge)

	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.setNextSweep(time.Now().Add(c.interval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("orphan collector stopped: context canceled")
			return
		case <-c.stopCh:
			c.logger.Info("orphan collector stopped")
			return
		case <-ticker.C:
			c.sweep(ctx)
			c.setNextSweep(time.Now().Add(c.interval))
		}
	}
}

// Stop gracefully stops the sweep loop.
func (c *Collector) Stop() {
	c.logger.Info("stopping orphan collector")
	close(c.stopCh)
	c.wg.Wait()
}

// TriggerCollection runs a sweep immediately, rate limited to once per 30
// seconds so a misbehaving debug endpoint cannot hammer every backend's
// connection pool.
func (c *Collector) TriggerCollection(ctx context.Context) (CollectionResult, error) {
	c.triggerMutex.Lock()
	defer c.triggerMutex.Unlock()

	if time.Since(c.lastTrigger) < 30*time.Second {
		return CollectionResult{}, ErrCollectionRateLimited
	}
	c.lastTrigger = time.Now()

	c.sweep(ctx)
	return CollectionResult{RanAt: time.Now(), NextScheduledAt: c.getNextSweep()}, nil
}

func (c *Collector) sweep(ctx context.Context) {
	c.sweepMutex.Lock()
	defer c.sweepMutex.Unlock()

	live := c.liveSessions(ctx)
	for _, m := range c.managers {
		if err := m.DropOrphans(ctx, live, c.maxAge); err != nil {
			c.logger.Error("orphan sweep failed", "dialect", m.dialect, "error", err)
		}
	}
	c.logger.Debug("orphan sweep completed", "live_sessions", len(live), "backends", len(c.managers))
}

func (c *Collector) setNextSweep(t time.Time) {
	c.nextMu.Lock()
	defer c.nextMu.Unlock()
	c.nextSweep = t
}

func (c *Collector) getNextSweep() time.Time {
	c.nextMu.RLock()
	defer c.nextMu.RUnlock()
	return c.nextSweep
}

// Interval returns the sweep interval.
func (c *Collector) Interval() time.Duration {
	return c.interval
}
