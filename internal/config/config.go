// Package config provides configuration loading and parsing for cc-gateway.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/omarluq/cc-gateway/internal/cache"
	"github.com/omarluq/cc-gateway/internal/health"
	"github.com/omarluq/cc-gateway/internal/quota"
)

// RuntimeConfig defines the interface for accessing runtime configuration that supports hot-reload.
// Components that need to observe config changes should use this interface instead of
// holding a direct *Config pointer, which would become stale after hot-reload.
//
// Usage pattern:
//
//	func (h *Handler) limitFor(rec storage.KeyRecord) int64 {
//		cfg := h.runtime.Get()
//		return cfg.Quota.DefaultLimit
//	}
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Quota strategies.
const (
	StrategyCached = "cached"
	StrategyDirect = "direct"
)

// Defaults applied when a field is left unset.
const (
	DefaultListen            = "127.0.0.1:8787"
	DefaultUpstreamURL       = "https://api.anthropic.com"
	DefaultStoragePath       = "cc-gateway.db"
	DefaultRetentionSchedule = "17 * * * *"
	DefaultMetricsPath       = "/metrics"
	DefaultCacheTTL          = time.Minute
)

// Config represents the complete cc-gateway configuration.
type Config struct {
	Upstream UpstreamConfig `yaml:"upstream" toml:"upstream"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Cache    CacheConfig    `yaml:"cache" toml:"cache"`
	Quota    QuotaConfig    `yaml:"quota" toml:"quota"`
	Health   health.Config  `yaml:"health" toml:"health"`
}

// Duration is a time.Duration that decodes from strings such as "5h" or "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// option returns None for non-positive durations.
func (d Duration) option() mo.Option[time.Duration] {
	if d <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(d))
}

// ServerConfig defines server-level settings.
type ServerConfig struct {
	Listen        string `yaml:"listen" toml:"listen"`
	AdminToken    string `yaml:"admin_token" toml:"admin_token"` // enables /admin routes when set
	TimeoutMS     int    `yaml:"timeout_ms" toml:"timeout_ms"`
	MaxConcurrent int    `yaml:"max_concurrent" toml:"max_concurrent"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`
	EnableHTTP2   bool   `yaml:"enable_http2" toml:"enable_http2"` // Enable HTTP/2 cleartext (h2c) support
}

// GetListen returns the listen address with default fallback.
func (s *ServerConfig) GetListen() string {
	if s.Listen == "" {
		return DefaultListen
	}
	return s.Listen
}

// GetTimeoutOption returns the timeout as an Option.
// Returns None if TimeoutMS is zero (use default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetMaxConcurrentOption returns the max concurrent setting as an Option.
// Returns None if MaxConcurrent is zero (unlimited).
func (s *ServerConfig) GetMaxConcurrentOption() mo.Option[int] {
	if s.MaxConcurrent <= 0 {
		return mo.None[int]()
	}
	return mo.Some(s.MaxConcurrent)
}

// GetMaxBodyBytesOption returns the request body limit as an Option.
// Returns None if MaxBodyBytes is zero (unlimited).
func (s *ServerConfig) GetMaxBodyBytesOption() mo.Option[int64] {
	if s.MaxBodyBytes <= 0 {
		return mo.None[int64]()
	}
	return mo.Some(s.MaxBodyBytes)
}

// IsAdminEnabled reports whether admin routes are exposed.
func (s *ServerConfig) IsAdminEnabled() bool {
	return s.AdminToken != ""
}

// UpstreamConfig defines the Anthropic-compatible backend requests are relayed to.
type UpstreamConfig struct {
	Name      string `yaml:"name" toml:"name"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	APIKey    string `yaml:"api_key" toml:"api_key"` // supports ${ENV_VAR}
	TimeoutMS int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

// GetName returns the upstream name with default fallback.
func (u *UpstreamConfig) GetName() string {
	if u.Name == "" {
		return "anthropic"
	}
	return u.Name
}

// GetBaseURL returns the upstream base URL with default fallback.
func (u *UpstreamConfig) GetBaseURL() string {
	if u.BaseURL == "" {
		return DefaultUpstreamURL
	}
	return strings.TrimSuffix(u.BaseURL, "/")
}

// GetTimeoutOption returns the upstream response-header timeout as an Option.
func (u *UpstreamConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if u.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(u.TimeoutMS) * time.Millisecond)
}

// QuotaConfig configures the token quota engine.
type QuotaConfig struct {
	Strategy            string      `yaml:"strategy" toml:"strategy"` // cached (default), direct
	Retry               RetryConfig `yaml:"retry" toml:"retry"`
	Window              Duration    `yaml:"window" toml:"window"`
	FlushInterval       Duration    `yaml:"flush_interval" toml:"flush_interval"`
	DefaultLimit        int64       `yaml:"default_limit" toml:"default_limit"`
	MaxWindowsPerKey    int         `yaml:"max_windows_per_key" toml:"max_windows_per_key"`
	MaxBatchSize        int         `yaml:"max_batch_size" toml:"max_batch_size"`
	MaxConcurrentWrites int         `yaml:"max_concurrent_writes" toml:"max_concurrent_writes"`
	DeadLetterCapacity  int         `yaml:"dead_letter_capacity" toml:"dead_letter_capacity"`
	RequestsPerMinute   int         `yaml:"requests_per_minute" toml:"requests_per_minute"` // per key, 0 = unlimited
	ReserveMaxTokens    bool        `yaml:"reserve_max_tokens" toml:"reserve_max_tokens"`
	ClampMaxTokens      bool        `yaml:"clamp_max_tokens" toml:"clamp_max_tokens"`
}

// RetryConfig controls retries of failed usage writes.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts" toml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval" toml:"max_interval"`
}

// GetEffectiveStrategy returns the quota strategy with default fallback.
func (q *QuotaConfig) GetEffectiveStrategy() string {
	if q.Strategy == "" {
		return StrategyCached
	}
	return q.Strategy
}

// GetWindow returns the rolling window duration with default fallback.
func (q *QuotaConfig) GetWindow() time.Duration {
	return q.Window.option().OrElse(quota.DefaultWindowDuration)
}

// GetFlushIntervalOption returns the write-back interval as an Option.
func (q *QuotaConfig) GetFlushIntervalOption() mo.Option[time.Duration] {
	return q.FlushInterval.option()
}

// GetRequestsPerMinuteOption returns the per-key request rate as an Option.
// Returns None if RequestsPerMinute is zero (unlimited).
func (q *QuotaConfig) GetRequestsPerMinuteOption() mo.Option[int] {
	if q.RequestsPerMinute <= 0 {
		return mo.None[int]()
	}
	return mo.Some(q.RequestsPerMinute)
}

// RetryPolicy converts the retry section to the engine's policy.
func (q *QuotaConfig) RetryPolicy() quota.RetryPolicy {
	return quota.RetryPolicy{
		MaxAttempts:     q.Retry.MaxAttempts,
		InitialInterval: q.Retry.InitialInterval.Std(),
		MaxInterval:     q.Retry.MaxInterval.Std(),
	}
}

// Options converts the section to quota engine options. Zero values keep the
// engine defaults.
func (q *QuotaConfig) Options() []quota.Option {
	opts := []quota.Option{
		quota.WithWindowDuration(q.GetWindow()),
		quota.WithMaxWindowsPerKey(q.MaxWindowsPerKey),
		quota.WithMaxBatchSize(q.MaxBatchSize),
		quota.WithMaxConcurrentWrites(q.MaxConcurrentWrites),
		quota.WithDeadLetterCapacity(q.DeadLetterCapacity),
		quota.WithRetryPolicy(q.RetryPolicy()),
	}
	if interval, ok := q.GetFlushIntervalOption().Get(); ok {
		opts = append(opts, quota.WithFlushInterval(interval))
	}
	return opts
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Driver            string                      `yaml:"driver" toml:"driver"` // sqlite (default), memory
	Path              string                      `yaml:"path" toml:"path"`
	RetentionSchedule string                      `yaml:"retention_schedule" toml:"retention_schedule"`
	Breaker           health.CircuitBreakerConfig `yaml:"breaker" toml:"breaker"`
	BusyTimeout       Duration                    `yaml:"busy_timeout" toml:"busy_timeout"`
	WriteTimeout      Duration                    `yaml:"write_timeout" toml:"write_timeout"`
	RetentionAge      Duration                    `yaml:"retention_age" toml:"retention_age"`
}

// GetDriver returns the storage driver with default fallback.
func (s *StorageConfig) GetDriver() string {
	if s.Driver == "" {
		return "sqlite"
	}
	return s.Driver
}

// GetPath returns the database path with default fallback.
func (s *StorageConfig) GetPath() string {
	if s.Path == "" {
		return DefaultStoragePath
	}
	return s.Path
}

// GetRetentionSchedule returns the pruning cron schedule with default fallback.
func (s *StorageConfig) GetRetentionSchedule() string {
	if s.RetentionSchedule == "" {
		return DefaultRetentionSchedule
	}
	return s.RetentionSchedule
}

// GetRetentionAge returns how old a window may get before pruning. It never
// drops below two spans of the default window; storage.Retention raises it
// further for keys with longer windows.
func (s *StorageConfig) GetRetentionAge(window time.Duration) time.Duration {
	return max(s.RetentionAge.Std(), 2*window)
}

// GetWriteTimeout returns the per-write timeout used by the persistence callback.
func (s *StorageConfig) GetWriteTimeout() time.Duration {
	return s.WriteTimeout.option().OrElse(10 * time.Second)
}

// CacheConfig configures the key-record cache.
type CacheConfig struct {
	Mode      cache.Mode            `yaml:"mode" toml:"mode"` // single (default), disabled
	Ristretto cache.RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
	TTL       Duration              `yaml:"ttl" toml:"ttl"`
}

// GetTTL returns the cache entry lifetime with default fallback.
func (c *CacheConfig) GetTTL() time.Duration {
	return c.TTL.option().OrElse(DefaultCacheTTL)
}

// ToCache converts the section to a cache.Config, filling Ristretto defaults.
func (c *CacheConfig) ToCache() cache.Config {
	out := cache.Config{Mode: c.Mode, Ristretto: c.Ristretto}
	if out.Mode == "" {
		out.Mode = cache.ModeSingle
	}
	def := cache.DefaultRistrettoConfig()
	if out.Ristretto.NumCounters <= 0 {
		out.Ristretto.NumCounters = def.NumCounters
	}
	if out.Ristretto.MaxCost <= 0 {
		out.Ristretto.MaxCost = def.MaxCost
	}
	if out.Ristretto.BufferItems <= 0 {
		out.Ristretto.BufferItems = def.BufferItems
	}
	return out
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Path    string `yaml:"path" toml:"path"`
	Enabled bool   `yaml:"enabled" toml:"enabled"`
}

// GetPath returns the metrics path with default fallback.
func (m *MetricsConfig) GetPath() string {
	if m.Path == "" {
		return DefaultMetricsPath
	}
	return m.Path
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"` // enable colored console output
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
