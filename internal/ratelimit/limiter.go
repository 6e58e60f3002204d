// Package ratelimit throttles request rate per API key.
//
// Token quotas bound how much a key may spend per window; this package bounds
// how fast it may ask. Each key gets its own token bucket refilled at
// rpm/60 per second with a burst of rpm, so a key can spend a minute's
// allowance at once and then recovers smoothly:
//
//	limiter := ratelimit.NewKeyedLimiter(60) // 60 requests per minute per key
//	if !limiter.Allow(keyID) {
//		retry := limiter.RetryAfter(keyID)
//		// reply 429
//	}
package ratelimit

import (
	"errors"
	"time"
)

// ErrRateLimitExceeded is returned when a key exceeds its request rate.
var ErrRateLimitExceeded = errors.New("ratelimit: rate limit exceeded")

// Usage is a point-in-time view of one bucket.
type Usage struct {
	RequestsLimit     int `json:"requests_limit"`
	RequestsRemaining int `json:"requests_remaining"`
}

// RateLimiter is a single request-rate bucket. Implementations are safe for
// concurrent use.
type RateLimiter interface {
	// Allow consumes one request if available and reports whether it did.
	Allow() bool

	// RetryAfter estimates how long until the next request is admitted.
	RetryAfter() time.Duration

	// SetLimit replaces the per-minute limit. Zero or negative means unlimited.
	SetLimit(rpm int)

	// GetUsage returns the current limit and remaining requests.
	GetUsage() Usage
}
