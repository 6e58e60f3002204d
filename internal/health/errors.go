package health

import "errors"

var (
	// ErrCircuitOpen is returned when a breaker rejects a call.
	ErrCircuitOpen = errors.New("health: circuit breaker is open")

	// ErrProbeFailed wraps the error of a failing dependency probe.
	ErrProbeFailed = errors.New("health: probe failed")
)
