package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RetentionStore is what pruning needs: the windows, and the keys whose
// window durations bound how far back a check may look.
type RetentionStore interface {
	UsageStore
	ListKeys(ctx context.Context) ([]KeyRecord, error)
}

// Retention prunes usage windows that can no longer affect any quota check.
// It runs on a standard five-field cron schedule, e.g. "0 * * * *" hourly.
type Retention struct {
	store    RetentionStore
	cron     *cron.Cron
	clock    func() time.Time
	logger   zerolog.Logger
	schedule string
	maxAge   time.Duration
	mu       sync.Mutex
	running  bool
}

// NewRetention validates schedule and returns an idle scheduler. Each run
// prunes windows starting more than maxAge ago, or twice the longest key
// window ago when a key overrides its window with something longer.
func NewRetention(store RetentionStore, schedule string, maxAge time.Duration, logger zerolog.Logger) (*Retention, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("storage: invalid retention schedule %q: %w", schedule, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("storage: retention age must be positive, got %s", maxAge)
	}
	return &Retention{
		store:    store,
		cron:     cron.New(),
		clock:    time.Now,
		logger:   logger.With().Str("component", "retention").Logger(),
		schedule: schedule,
		maxAge:   maxAge,
	}, nil
}

// Start schedules pruning. It is a no-op when already running.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if _, err := r.cron.AddFunc(r.schedule, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("storage: schedule retention: %w", err)
	}
	r.cron.Start()
	r.running = true

	r.logger.Info().
		Str("schedule", r.schedule).
		Dur("max_age", r.maxAge).
		Msg("retention scheduler started")
	return nil
}

// RunOnce prunes immediately and reports how many windows were deleted.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	age, err := r.age(ctx)
	if err != nil {
		return 0, err
	}
	return r.store.PruneWindows(ctx, r.clock().Add(-age))
}

// age is the configured maximum age, raised to two spans of the longest
// per-key window.
func (r *Retention) age(ctx context.Context) (time.Duration, error) {
	keys, err := r.store.ListKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: list keys for retention: %w", err)
	}
	age := r.maxAge
	for _, k := range keys {
		age = max(age, 2*k.WindowDuration)
	}
	return age, nil
}

func (r *Retention) run(ctx context.Context) {
	deleted, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("retention pruning failed")
		return
	}
	if deleted > 0 {
		r.logger.Info().Int64("deleted", deleted).Msg("retention pruning completed")
		return
	}
	r.logger.Debug().Msg("retention pruning completed, nothing to delete")
}

// Stop halts the scheduler and waits for a running prune to finish or ctx to end.
func (r *Retention) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	done := r.cron.Stop()
	r.mu.Unlock()

	select {
	case <-done.Done():
		r.logger.Info().Msg("retention scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRun returns the next scheduled prune, or the zero time when idle.
func (r *Retention) NextRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.cron.Entries()
	if !r.running || len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
