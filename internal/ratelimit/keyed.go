package ratelimit

import (
	"sync"
	"time"
)

type keyedEntry struct {
	limiter  *TokenBucketLimiter
	lastSeen time.Time
}

// KeyedLimiter holds one TokenBucketLimiter per key, created on first use.
type KeyedLimiter struct {
	entries map[string]*keyedEntry
	now     func() time.Time
	rpm     int
	mu      sync.Mutex
}

// NewKeyedLimiter creates a KeyedLimiter granting each key rpm requests per
// minute. rpm <= 0 disables limiting.
func NewKeyedLimiter(rpm int) *KeyedLimiter {
	return &KeyedLimiter{
		entries: make(map[string]*keyedEntry),
		now:     time.Now,
		rpm:     rpm,
	}
}

// Enabled reports whether any limit is configured.
func (k *KeyedLimiter) Enabled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rpm > 0
}

func (k *KeyedLimiter) get(key string) *TokenBucketLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		l := NewTokenBucketLimiter(k.rpm)
		l.now = k.now
		e = &keyedEntry{limiter: l}
		k.entries[key] = e
	}
	e.lastSeen = k.now()
	return e.limiter
}

// Allow consumes one request from key's bucket. Always true when disabled.
func (k *KeyedLimiter) Allow(key string) bool {
	if !k.Enabled() {
		return true
	}
	return k.get(key).Allow()
}

// RetryAfter estimates how long key must wait for its next request.
func (k *KeyedLimiter) RetryAfter(key string) time.Duration {
	if !k.Enabled() {
		return 0
	}
	return k.get(key).RetryAfter()
}

// Usage returns key's bucket state.
func (k *KeyedLimiter) Usage(key string) Usage {
	return k.get(key).GetUsage()
}

// SetRPM changes the per-key limit. Existing buckets restart full.
func (k *KeyedLimiter) SetRPM(rpm int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if rpm == k.rpm {
		return
	}
	k.rpm = rpm
	for _, e := range k.entries {
		e.limiter.SetLimit(rpm)
	}
}

// Sweep drops buckets idle for longer than idle and returns how many were
// removed. A dropped bucket comes back full on the key's next request, so idle
// must exceed a minute for limits to hold.
func (k *KeyedLimiter) Sweep(idle time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := k.now().Add(-idle)
	removed := 0
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
