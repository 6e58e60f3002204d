package health

import (
	"sync"

	"github.com/rs/zerolog"
)

// Dependency names used across the gateway.
const (
	DependencyStorage  = "storage"
	DependencyUpstream = "upstream"
)

// Tracker owns one circuit breaker per dependency name.
type Tracker struct {
	circuits map[string]*CircuitBreaker
	configs  map[string]CircuitBreakerConfig
	logger   *zerolog.Logger
	fallback CircuitBreakerConfig
	mu       sync.RWMutex
}

// NewTracker creates a Tracker whose breakers default to cfg.
func NewTracker(cfg CircuitBreakerConfig, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		circuits: make(map[string]*CircuitBreaker),
		configs:  make(map[string]CircuitBreakerConfig),
		fallback: cfg,
		logger:   logger,
	}
}

// Configure overrides the breaker settings for name. It only affects breakers
// created afterwards.
func (t *Tracker) Configure(name string, cfg CircuitBreakerConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configs[name] = cfg
}

// Circuit returns the breaker for name, creating it on first use.
func (t *Tracker) Circuit(name string) *CircuitBreaker {
	t.mu.RLock()
	cb, ok := t.circuits[name]
	t.mu.RUnlock()
	if ok {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok = t.circuits[name]; ok {
		return cb
	}

	cfg, ok := t.configs[name]
	if !ok {
		cfg = t.fallback
	}
	cb = NewCircuitBreaker(name, cfg, t.logger)
	t.circuits[name] = cb

	if t.logger != nil {
		t.logger.Debug().Str("dependency", name).Msg("created circuit breaker")
	}
	return cb
}

// GetState returns name's circuit state, StateClosed if it was never used.
func (t *Tracker) GetState(name string) State {
	t.mu.RLock()
	cb, ok := t.circuits[name]
	t.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return cb.State()
}

// IsHealthy reports whether name's circuit admits traffic.
func (t *Tracker) IsHealthy(name string) bool {
	return t.GetState(name) != StateOpen
}

// AllStates returns a snapshot of every circuit's state.
func (t *Tracker) AllStates() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]State, len(t.circuits))
	for name, cb := range t.circuits {
		states[name] = cb.State()
	}
	return states
}
