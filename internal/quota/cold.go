package quota

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ColdCheck evaluates a key's quota directly from its persisted windows.
// It is a pure function of its inputs.
func ColdCheck(key string, persisted []PersistedWindow, cfg Config, now time.Time, tokensRequested int64) (Result, error) {
	if tokensRequested < 0 {
		return Result{}, ErrNegativeTokens
	}
	windows, err := Hydrate(key, persisted, cfg.Duration())
	if err != nil {
		return Result{}, err
	}
	return evaluate(windows, cfg, now, tokensRequested), nil
}

// evaluate sums the active windows and builds the admission result.
// tokensRequested must not be negative.
// A window is active when StartTime >= now - duration. The reported bounds are
// those of the earliest active window carrying usage, or [now, now+duration)
// when no usage is active.
func evaluate(windows []Window, cfg Config, now time.Time, tokensRequested int64) Result {
	d := cfg.Duration()
	cutoff := now.Add(-d)

	var used int64
	var earliest *Window
	for i := range windows {
		w := &windows[i]
		if w.StartTime.Before(cutoff) {
			continue
		}
		used += w.TokensUsed
		if w.TokensUsed > 0 && (earliest == nil || w.StartTime.Before(earliest.StartTime)) {
			earliest = w
		}
	}

	start, end := now, now.Add(d)
	if earliest != nil {
		start = earliest.StartTime
		end = start.Add(d)
	}

	res := Result{
		Allowed:     used+tokensRequested <= cfg.Limit,
		TokensUsed:  used,
		TokensLimit: cfg.Limit,
		WindowStart: start,
		WindowEnd:   end,
	}
	if !res.Allowed {
		res.Reason = ReasonTokenLimitExceeded
		res.RetryAfterSeconds = retryAfterSeconds(end, now, d)
	}
	return res
}

// retryAfterSeconds rounds the time until windowEnd up to whole seconds,
// clamped to [1, windowDuration].
func retryAfterSeconds(windowEnd, now time.Time, windowDuration time.Duration) int64 {
	secs := int64(math.Ceil(windowEnd.Sub(now).Seconds()))
	ceiling := int64(math.Ceil(windowDuration.Seconds()))
	return min(max(secs, 1), max(ceiling, 1))
}

// WindowSource loads the persisted windows of a key.
type WindowSource interface {
	LoadWindows(ctx context.Context, key string) ([]PersistedWindow, error)
}

// UsageWriter persists usage deltas.
type UsageWriter interface {
	ApplyUpdate(ctx context.Context, update PendingUpdate) error
}

// DirectChecker answers every check from the store and writes usage through
// synchronously. The only per-key state it keeps is the window duration of
// the key's latest Check, which RecordUsage uses to find the current window.
type DirectChecker struct {
	source    WindowSource
	writer    UsageWriter
	metrics   *Metrics
	clock     func() time.Time
	logger    zerolog.Logger
	durations sync.Map // key -> time.Duration
	window    time.Duration
}

// NewDirectChecker creates a cold-path checker over source and writer.
func NewDirectChecker(source WindowSource, writer UsageWriter, opts ...Option) *DirectChecker {
	s := newSettings(opts)
	return &DirectChecker{
		source:  source,
		writer:  writer,
		metrics: s.metrics,
		clock:   s.clock,
		logger:  s.logger,
		window:  s.windowDuration,
	}
}

// Check loads the key's windows and evaluates them.
func (c *DirectChecker) Check(ctx context.Context, key string, cfg Config, tokensRequested int64) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	if tokensRequested < 0 {
		return Result{}, ErrNegativeTokens
	}
	started := time.Now()

	persisted, err := c.source.LoadWindows(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("quota: load windows for %q: %w", key, err)
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = c.window
	}
	c.durations.Store(key, cfg.WindowDuration)

	res, err := ColdCheck(key, persisted, cfg, c.clock(), tokensRequested)
	if err != nil {
		return Result{}, err
	}
	c.metrics.RecordCheck(res.Allowed, false, time.Since(started))
	return res, nil
}

// RecordUsage writes tokens into the window covering now.
func (c *DirectChecker) RecordUsage(ctx context.Context, key string, tokens int64) error {
	if key == "" {
		return ErrEmptyKey
	}
	if tokens < 0 {
		return ErrNegativeTokens
	}
	if tokens == 0 {
		return nil
	}

	now := c.clock()
	persisted, err := c.source.LoadWindows(ctx, key)
	if err != nil {
		return fmt.Errorf("quota: load windows for %q: %w", key, err)
	}
	d := c.durationFor(key)
	windows, err := Hydrate(key, persisted, d)
	if err != nil {
		return err
	}

	var start time.Time
	if i := FindCurrent(windows, now); i >= 0 {
		start = windows[i].StartTime
	} else {
		start = CreateWindow(now, d).StartTime
	}

	update := PendingUpdate{Key: key, TokenDelta: tokens, LastTouched: now}
	update.addWindowDelta(start, tokens)
	if err := c.writer.ApplyUpdate(ctx, update); err != nil {
		c.metrics.recordFlush(1, 1)
		return fmt.Errorf("quota: write usage for %q: %w", key, err)
	}
	c.metrics.recordFlush(1, 0)
	c.logger.Debug().Str("key", key).Int64("tokens", tokens).Msg("usage written through")
	return nil
}

// durationFor returns the window duration of key's latest Check, or the
// checker default when the key has not been checked.
func (c *DirectChecker) durationFor(key string) time.Duration {
	if d, ok := c.durations.Load(key); ok {
		return d.(time.Duration)
	}
	return c.window
}

// Metrics returns a snapshot of the checker's counters.
func (c *DirectChecker) Metrics() MetricsSnapshot { return c.metrics.Snapshot() }

// ResetMetrics zeroes the checker's counters.
func (c *DirectChecker) ResetMetrics() { c.metrics.Reset() }

// Flush is a no-op; usage is already durable.
func (c *DirectChecker) Flush(context.Context) FlushReport { return FlushReport{} }

// DeadLetters always returns nil for the direct checker.
func (c *DirectChecker) DeadLetters() []DeadLetter { return nil }

// Shutdown is a no-op.
func (c *DirectChecker) Shutdown(context.Context) error { return nil }
