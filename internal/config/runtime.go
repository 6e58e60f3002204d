package config

import "sync/atomic"

// Runtime holds the live configuration behind an atomic pointer.
// The watcher swaps in a new *Config on reload; readers call Get per request
// and keep using whichever snapshot they loaded.
//
//	runtime := config.NewRuntime(initial)
//	watcher.OnReload(func(cfg *config.Config) error {
//		runtime.Store(cfg)
//		return nil
//	})
type Runtime struct {
	ptr atomic.Pointer[Config]
}

// NewRuntime creates a Runtime seeded with initial.
func NewRuntime(initial *Config) *Runtime {
	r := &Runtime{}
	r.ptr.Store(initial)
	return r
}

// Get returns the current configuration.
func (r *Runtime) Get() *Config {
	return r.ptr.Load()
}

// Store replaces the current configuration.
func (r *Runtime) Store(cfg *Config) {
	r.ptr.Store(cfg)
}

var _ RuntimeConfig = (*Runtime)(nil)
