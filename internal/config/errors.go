package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalid matches any *ValidationError via errors.Is.
	ErrInvalid = errors.New("config: invalid configuration")

	// ErrWatcherClosed is returned when an operation is attempted on a closed watcher.
	ErrWatcherClosed = errors.New("config: watcher already closed")
)

// ValidationError aggregates every problem Validate finds so one run reports
// them all.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("config validation failed")
	switch len(e.Errors) {
	case 0:
	case 1:
		b.WriteString(": ")
		b.WriteString(e.Errors[0])
	default:
		fmt.Fprintf(&b, " with %d errors:", len(e.Errors))
		for _, msg := range e.Errors {
			b.WriteString("\n  - ")
			b.WriteString(msg)
		}
	}
	return b.String()
}

// Is reports ErrInvalid as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Add records msg.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf records a formatted message.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Add(fmt.Sprintf(format, args...))
}

// HasErrors reports whether anything was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns e when it holds errors and nil otherwise, so callers never
// hand back a typed nil.
func (e *ValidationError) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}
