package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Checker admits or denies requests against per-key quotas and records usage.
// All implementations must be safe for concurrent use.
type Checker interface {
	// Check evaluates whether tokensRequested more tokens fit within the key's quota.
	Check(ctx context.Context, key string, cfg Config, tokensRequested int64) (Result, error)

	// RecordUsage adds consumed tokens to the key's current window, sized by
	// the window duration of the key's latest Check.
	RecordUsage(ctx context.Context, key string, tokens int64) error

	// Flush forces pending usage to be persisted.
	Flush(ctx context.Context) FlushReport

	// DeadLetters returns updates that exhausted their retries.
	DeadLetters() []DeadLetter

	// Metrics returns a consistent snapshot of the checker's counters.
	Metrics() MetricsSnapshot

	// ResetMetrics zeroes the counters and the latency buffer.
	ResetMetrics()

	// Shutdown flushes outstanding usage and stops background work.
	Shutdown(ctx context.Context) error
}

var (
	_ Checker = (*Tracker)(nil)
	_ Checker = (*DirectChecker)(nil)
)

// Option configures a Tracker or DirectChecker.
type Option func(*settings)

type settings struct {
	clock            func() time.Time
	source           WindowSource
	metrics          *Metrics
	logger           zerolog.Logger
	retry            RetryPolicy
	windowDuration   time.Duration
	flushInterval    time.Duration
	maxWindowsPerKey int
	maxBatchSize     int
	maxConcurrent    int
	deadLetterCap    int
}

func newSettings(opts []Option) *settings {
	s := &settings{
		clock:            time.Now,
		logger:           zerolog.Nop(),
		retry:            DefaultRetryPolicy(),
		windowDuration:   DefaultWindowDuration,
		flushInterval:    DefaultFlushInterval,
		maxWindowsPerKey: DefaultMaxWindowsPerKey,
		maxBatchSize:     DefaultMaxBatchSize,
		maxConcurrent:    DefaultMaxConcurrent,
		deadLetterCap:    DefaultDeadLetterCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

// WithClock overrides the time source used for window arithmetic.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithWindowSource sets where unseen keys are hydrated from.
func WithWindowSource(src WindowSource) Option {
	return func(s *settings) { s.source = src }
}

// WithMetrics shares an existing metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithWindowDuration sets the default rolling window span.
func WithWindowDuration(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.windowDuration = d
		}
	}
}

// WithMaxWindowsPerKey caps how many windows are kept per key.
func WithMaxWindowsPerKey(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxWindowsPerKey = n
		}
	}
}

// WithMaxBatchSize sets the pending-key count that triggers an early flush.
func WithMaxBatchSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithFlushInterval sets the write-back timer period.
func WithFlushInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithMaxConcurrentWrites bounds concurrent persistence callbacks per flush.
func WithMaxConcurrentWrites(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithRetryPolicy sets how failed updates are retried.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *settings) { s.retry = p.withDefaults() }
}

// WithDeadLetterCapacity bounds the dead-letter list.
func WithDeadLetterCapacity(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.deadLetterCap = n
		}
	}
}
