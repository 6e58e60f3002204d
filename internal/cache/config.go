package cache

import (
	"errors"
	"fmt"
)

// Mode selects the cache backend.
type Mode string

const (
	// ModeSingle uses a process-local Ristretto cache (default).
	ModeSingle Mode = "single"

	// ModeDisabled stores nothing; every lookup goes to storage.
	ModeDisabled Mode = "disabled"
)

// Config defines cache configuration.
type Config struct {
	Mode      Mode            `yaml:"mode" toml:"mode"`
	Ristretto RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
}

// RistrettoConfig configures the Ristretto local cache.
type RistrettoConfig struct {
	// NumCounters is the number of 4-bit access counters, ideally 10x the
	// expected number of live keys.
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`

	// MaxCost bounds the total bytes of cached values.
	MaxCost int64 `yaml:"max_cost" toml:"max_cost"`

	// BufferItems is the number of keys per Get buffer.
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSingle:
		if c.Ristretto.MaxCost <= 0 {
			return errors.New("cache: ristretto.max_cost must be positive")
		}
		if c.Ristretto.NumCounters <= 0 {
			return errors.New("cache: ristretto.num_counters must be positive")
		}
	case ModeDisabled:
	case "":
		return errors.New("cache: mode is required")
	default:
		return fmt.Errorf("cache: unknown mode %q", c.Mode)
	}
	return nil
}

// DefaultRistrettoConfig sizes the cache for roughly 100K API keys.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 1_000_000,
		MaxCost:     32 << 20, // 32 MB
		BufferItems: 64,
	}
}
