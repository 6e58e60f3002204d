package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// noopCache is used when caching is disabled. Reads always miss.
type noopCache struct {
	closed atomic.Bool
}

var _ Cache = (*noopCache)(nil)

func newNoopCache() *noopCache {
	l := logger()
	l.Debug().Str("backend", "noop").Msg("caching is disabled")
	return &noopCache{}
}

func (c *noopCache) Get(context.Context, string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return nil, ErrNotFound
}

func (c *noopCache) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) Delete(context.Context, string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) Close() error {
	c.closed.Store(true)
	return nil
}
