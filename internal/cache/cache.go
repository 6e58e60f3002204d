// Package cache holds short-lived lookups in front of the gateway's store.
//
// The gateway resolves every request's API key by hash. Those records rarely
// change, so they are kept in a local Ristretto cache for a bounded TTL and
// invalidated explicitly when an admin disables or edits a key:
//
//	c, err := cache.New(&cache.Config{
//		Mode:      cache.ModeSingle,
//		Ristretto: cache.DefaultRistrettoConfig(),
//	})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	records := cache.NewTyped[storage.KeyRecord](c, "key:")
//	rec, err := records.Get(ctx, hash)
//	if errors.Is(err, cache.ErrNotFound) {
//		// fall through to storage
//	}
//
// Caching can be switched off with ModeDisabled, in which case every Get
// misses and writes are discarded.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value cache. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get returns ErrNotFound on a miss and ErrClosed after Close.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value until ttl elapses. A zero ttl never expires.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	// Close is idempotent. Later operations return ErrClosed.
	Close() error
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeyCount  uint64 `json:"key_count"`
	BytesUsed uint64 `json:"bytes_used"`
	Evictions uint64 `json:"evictions"`
}

// StatsProvider is implemented by caches that track statistics.
//
//	if sp, ok := c.(cache.StatsProvider); ok {
//		stats := sp.Stats()
//	}
type StatsProvider interface {
	Stats() Stats
}
