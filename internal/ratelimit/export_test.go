package ratelimit

import "time"

// SetClock replaces the time source used by the limiter and buckets it creates.
func (k *KeyedLimiter) SetClock(now func() time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = now
	for _, e := range k.entries {
		e.limiter.now = now
	}
}

// SetClock replaces the bucket's time source.
func (l *TokenBucketLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
