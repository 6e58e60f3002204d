package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Typed stores JSON-encoded values of T under a fixed key prefix.
type Typed[T any] struct {
	cache  Cache
	prefix string
}

// NewTyped wraps c so values of T live under prefix.
func NewTyped[T any](c Cache, prefix string) *Typed[T] {
	return &Typed[T]{cache: c, prefix: prefix}
}

// Get decodes the cached value for key.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	raw, err := t.cache.Get(ctx, t.prefix+key)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, nil
}

// Set encodes v and stores it for ttl.
func (t *Typed[T]) Set(ctx context.Context, key string, v T, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return t.cache.SetWithTTL(ctx, t.prefix+key, raw, ttl)
}

// Invalidate drops key.
func (t *Typed[T]) Invalidate(ctx context.Context, key string) error {
	return t.cache.Delete(ctx, t.prefix+key)
}
