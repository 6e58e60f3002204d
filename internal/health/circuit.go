package health

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// State is a breaker's position: closed, open or half-open.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// CircuitBreaker guards one dependency (storage writes or the upstream API).
// Calls are two-step: Allow admits a call and the returned func records how
// it went, so streamed responses can report after headers arrive.
type CircuitBreaker struct {
	cb   *gobreaker.TwoStepCircuitBreaker[struct{}]
	name string
}

// NewCircuitBreaker creates a breaker named after the dependency it guards.
// State changes are logged when logger is non-nil.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zerolog.Logger) *CircuitBreaker {
	threshold := uint32(cfg.GetFailureThreshold()) //nolint:gosec // positive by construction

	return &CircuitBreaker{
		name: name,
		cb: gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: uint32(cfg.GetHalfOpenProbes()), //nolint:gosec // positive by construction
			Timeout:     cfg.GetOpenDuration(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(dep string, from, to gobreaker.State) {
				logStateChange(logger, dep, from, to)
			},
			IsSuccessful: isSuccessful,
		}),
	}
}

func logStateChange(logger *zerolog.Logger, dep string, from, to gobreaker.State) {
	if logger == nil {
		return
	}
	event := logger.Info()
	if to == gobreaker.StateOpen {
		event = logger.Warn()
	}
	event.Str("dependency", dep).
		Stringer("from", from).
		Stringer("to", to).
		Msg("circuit breaker state change")
}

// isSuccessful keeps caller cancellations from counting against the dependency.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// Allow admits one call or returns ErrCircuitOpen. The caller must invoke
// done exactly once with the call's outcome.
func (c *CircuitBreaker) Allow() (done func(err error), err error) {
	d, err := c.cb.Allow()
	if err != nil {
		return nil, ErrCircuitOpen
	}
	return d, nil
}

// Do runs fn under the breaker. A ctx that is already done is returned as is
// without spending a half-open probe.
func (c *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done, err := c.Allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	done(err)
	return err
}

// Report records the outcome of a call made outside Allow, such as a health
// probe. It returns false when the open circuit refused the report.
func (c *CircuitBreaker) Report(outcome error) bool {
	done, err := c.Allow()
	if err != nil {
		return false
	}
	done(outcome)
	return true
}

// State returns the current state.
func (c *CircuitBreaker) State() State {
	return c.cb.State()
}

// Counts returns the breaker's counters for the current generation.
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// Name returns the guarded dependency's name.
func (c *CircuitBreaker) Name() string {
	return c.name
}

// ShouldCountAsFailure decides whether an upstream response trips the breaker.
// Server errors and 429 count; client cancellations never do.
func ShouldCountAsFailure(statusCode int, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests
}
