package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const unlimitedRate = 1_000_000

var _ RateLimiter = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter implements RateLimiter with golang.org/x/time/rate.
// Burst equals the per-minute limit.
type TokenBucketLimiter struct {
	limiter  *rate.Limiter
	now      func() time.Time
	rpmLimit int
	mu       sync.RWMutex
}

// NewTokenBucketLimiter creates a limiter allowing rpm requests per minute.
// Zero or negative rpm is treated as unlimited.
func NewTokenBucketLimiter(rpm int) *TokenBucketLimiter {
	l := &TokenBucketLimiter{now: time.Now}
	l.SetLimit(rpm)
	return l
}

func newBucket(rpm int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
}

func (l *TokenBucketLimiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.AllowN(l.now(), 1)
}

// RetryAfter reports the delay until one request would be admitted, without
// consuming it.
func (l *TokenBucketLimiter) RetryAfter() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

func (l *TokenBucketLimiter) SetLimit(rpm int) {
	if rpm <= 0 {
		rpm = unlimitedRate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = newBucket(rpm)
	l.rpmLimit = rpm
}

func (l *TokenBucketLimiter) GetUsage() Usage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	remaining := int(l.limiter.TokensAt(l.now()))
	remaining = max(0, min(remaining, l.rpmLimit))
	return Usage{RequestsLimit: l.rpmLimit, RequestsRemaining: remaining}
}
