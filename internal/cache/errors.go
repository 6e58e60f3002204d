package cache

import "errors"

var (
	// ErrNotFound is returned when a key is not cached.
	ErrNotFound = errors.New("cache: key not found")

	// ErrClosed is returned when operations are attempted on a closed cache.
	ErrClosed = errors.New("cache: cache is closed")

	// ErrSerializationFailed is returned when a typed value cannot be encoded
	// or a cached payload cannot be decoded.
	ErrSerializationFailed = errors.New("cache: serialization failed")
)
