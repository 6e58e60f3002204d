// Package quota implements per-key token quotas over rolling, hour-aligned windows.
//
// Two admission strategies share the same evaluation rules:
//   - DirectChecker recomputes usage from the persistent store on every call
//     and writes usage through immediately (cold path).
//   - Tracker keeps per-key windows in memory, answers checks without I/O once
//     a key is hydrated, and defers persistence to a batched write-back (hot path).
//
// Both strategies count a window toward the rolling total when its start time
// falls at or after now minus the window duration, so for the same persisted
// state they always reach the same decision.
//
// Basic usage:
//
//	tracker := quota.NewTracker(quota.WithWindowSource(store))
//	tracker.SetPersistenceCallback(store.ApplyUpdate)
//	defer tracker.Shutdown(ctx)
//
//	res, err := tracker.Check(ctx, keyID, quota.Config{Limit: 1_000_000}, 1)
//	if err == nil && res.Allowed {
//		// serve the request, then
//		_ = tracker.RecordUsage(ctx, keyID, tokensConsumed)
//	}
package quota

import (
	"fmt"
	"time"
)

// Defaults for window sizing and write-back batching.
const (
	DefaultWindowDuration   = 5 * time.Hour
	DefaultMaxWindowsPerKey = 10
	DefaultMaxBatchSize     = 100
	DefaultFlushInterval    = 5 * time.Second
	DefaultMaxConcurrent    = 8
	DefaultDeadLetterCap    = 1000

	// ReasonTokenLimitExceeded is the denial reason reported in Result.Reason.
	ReasonTokenLimitExceeded = "token limit exceeded"

	// windowAlignment is the granularity window starts are snapped to.
	windowAlignment = time.Hour

	// persistedTimeLayout is the wire layout of window timestamps.
	persistedTimeLayout = time.RFC3339
)

// Window is a single accounting bucket for one key.
// A window covers the half-open interval [StartTime, EndTime).
type Window struct {
	StartTime  time.Time
	EndTime    time.Time
	TokensUsed int64
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.StartTime) && t.Before(w.EndTime)
}

// Persisted converts the window to its wire form.
func (w Window) Persisted() PersistedWindow {
	return PersistedWindow{
		WindowStart: FormatTime(w.StartTime),
		WindowEnd:   FormatTime(w.EndTime),
		TokensUsed:  w.TokensUsed,
	}
}

// PersistedWindow is a window as stored externally, with RFC 3339 timestamps.
type PersistedWindow struct {
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end,omitempty"`
	TokensUsed  int64  `json:"tokens_used"`
}

// Config is the quota assigned to a single key.
type Config struct {
	// Limit is the maximum number of tokens allowed across active windows.
	Limit int64 `json:"limit" yaml:"limit" toml:"limit"`

	// WindowDuration is the rolling span. Zero means DefaultWindowDuration.
	WindowDuration time.Duration `json:"window_duration" yaml:"window_duration" toml:"window_duration"`
}

// Duration returns the effective window duration.
func (c Config) Duration() time.Duration {
	if c.WindowDuration <= 0 {
		return DefaultWindowDuration
	}
	return c.WindowDuration
}

// Result is the outcome of a quota check.
type Result struct {
	WindowStart       time.Time `json:"window_start"`
	WindowEnd         time.Time `json:"window_end"`
	Reason            string    `json:"reason,omitempty"`
	TokensUsed        int64     `json:"tokens_used"`
	TokensLimit       int64     `json:"tokens_limit"`
	RetryAfterSeconds int64     `json:"retry_after_seconds,omitempty"`
	Allowed           bool      `json:"allowed"`
}

// Remaining returns the number of tokens still available, never below zero.
func (r Result) Remaining() int64 {
	return max(r.TokensLimit-r.TokensUsed, 0)
}

// FormatTime renders t in the persisted timestamp layout (UTC, second precision).
func FormatTime(t time.Time) string {
	return t.UTC().Format(persistedTimeLayout)
}

// ParseTime parses a persisted timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrMalformedWindow, s, err)
	}
	return t.UTC(), nil
}
