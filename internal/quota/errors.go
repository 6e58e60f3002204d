package quota

import "errors"

// Sentinel errors for quota tracking.
var (
	// ErrMalformedWindow is returned when a persisted window cannot be hydrated,
	// either because a timestamp does not parse or the token count is negative.
	ErrMalformedWindow = errors.New("quota: malformed persisted window")

	// ErrNegativeTokens is returned when usage is recorded with a negative token count.
	ErrNegativeTokens = errors.New("quota: token count must not be negative")

	// ErrEmptyKey is returned when an operation is attempted without a key.
	ErrEmptyKey = errors.New("quota: key must not be empty")
)
