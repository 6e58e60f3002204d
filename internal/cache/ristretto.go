package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
)

// ristrettoCache implements Cache on top of Ristretto. The RWMutex lets
// readers and writers share the cache while Close waits for them to drain.
type ristrettoCache struct {
	cache  *ristretto.Cache[string, []byte]
	log    zerolog.Logger
	mu     sync.RWMutex
	closed bool
}

var (
	_ Cache         = (*ristrettoCache)(nil)
	_ StatsProvider = (*ristrettoCache)(nil)
)

func newRistrettoCache(cfg RistrettoConfig) (*ristrettoCache, error) {
	log := logger().With().Str("backend", "ristretto").Logger()

	bufferItems := cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = 64
	}

	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: bufferItems,
		Metrics:     true,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create ristretto cache")
		return nil, err
	}

	log.Info().
		Int64("num_counters", cfg.NumCounters).
		Int64("max_cost", cfg.MaxCost).
		Msg("ristretto cache created")

	return &ristrettoCache{cache: rc, log: log}, nil
}

// read runs fn under the read lock once ctx and the closed flag are checked.
func (r *ristrettoCache) read(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return fn()
}

func (r *ristrettoCache) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := r.read(ctx, func() error {
		value, found := r.cache.Get(key)
		if !found {
			return ErrNotFound
		}
		out = bytes.Clone(value)
		return nil
	})
	return out, err
}

// SetWithTTL charges the value's byte length as its cost. Ristretto admits
// writes asynchronously, so a Get immediately after may still miss.
func (r *ristrettoCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.read(ctx, func() error {
		r.cache.SetWithTTL(key, bytes.Clone(value), int64(len(value)), ttl)
		r.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("cache set")
		return nil
	})
}

func (r *ristrettoCache) Delete(ctx context.Context, key string) error {
	return r.read(ctx, func() error {
		r.cache.Del(key)
		return nil
	})
}

// wait blocks until buffered writes are applied.
func (r *ristrettoCache) wait() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.closed {
		r.cache.Wait()
	}
}

func (r *ristrettoCache) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cache.Wait()
	r.cache.Close()
	r.log.Info().Msg("ristretto cache closed")
	return nil
}

func (r *ristrettoCache) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return Stats{}
	}
	m := r.cache.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeyCount:  m.KeysAdded() - m.KeysEvicted(),
		BytesUsed: m.CostAdded() - m.CostEvicted(),
		Evictions: m.KeysEvicted(),
	}
}
