package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reapable is a backend that can remove sandboxes orphaned by a crash
type Reapable interface {
	ReapStale(ctx context.Context) (int, error)
}

// ReapObserver is told how many sandboxes each pass removed
type ReapObserver interface {
	ObserveReaped(n int)
}

// Reaper periodically removes stale sandboxes left behind by an earlier
// process. Sandboxes owned by running calls are never touched.
type Reaper struct {
	logger   *zap.Logger
	target   Reapable
	schedule string
	timeout  time.Duration
	observer ReapObserver

	mu   sync.Mutex
	cron *cron.Cron
}

// ReaperOption defines a functional option for Reaper
type ReaperOption func(*Reaper)

// WithReapObserver sets the observer notified after each pass
func WithReapObserver(o ReapObserver) ReaperOption {
	return func(r *Reaper) {
		r.observer = o
	}
}

// NewReaper creates a Reaper. schedule uses cron syntax including the
// @every descriptors, e.g. "@every 5m".
func NewReaper(logger *zap.Logger, target Reapable, schedule string, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		logger:   logger,
		target:   target,
		schedule: schedule,
		timeout:  DefaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers the reap job and starts the scheduler
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { _, _ = r.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("sandbox reaper started", zap.String("schedule", r.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single reap pass
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	removed, err := r.target.ReapStale(ctx)
	if err != nil {
		r.logger.Warn("failed to reap stale sandboxes", zap.Error(err))
		return 0, err
	}
	if r.observer != nil {
		r.observer.ObserveReaped(removed)
	}
	if removed > 0 {
		r.logger.Info("reaped stale sandboxes", zap.Int("count", removed))
	}
	return removed, nil
}
