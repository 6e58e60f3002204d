// Package config provides configuration loading, parsing, and validation for cc-gateway.
package config

import (
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/omarluq/cc-gateway/internal/cache"
)

var validStrategies = map[string]bool{
	"":             true, // Empty defaults to cached
	StrategyCached: true,
	StrategyDirect: true,
}

var validStorageDrivers = map[string]bool{
	"":       true, // Empty defaults to sqlite
	"sqlite": true,
	"memory": true,
}

var validCacheModes = map[cache.Mode]bool{
	"":                 true, // Empty defaults to single
	cache.ModeSingle:   true,
	cache.ModeDisabled: true,
}

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"text":    true, // Alias for console
	"pretty":  true,
}

// Validate checks the configuration for errors.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateUpstream(c, errs)
	validateQuota(c, errs)
	validateStorage(c, errs)
	validateCache(c, errs)
	validateLogging(c, errs)
	validateMetrics(c, errs)
	validateHealth(c, errs)

	return errs.ToError()
}

func validateServer(c *Config, errs *ValidationError) {
	if c.Server.Listen != "" {
		validateListenAddress(c.Server.Listen, errs)
	}
	if c.Server.TimeoutMS < 0 {
		errs.Add("server.timeout_ms must be >= 0")
	}
	if c.Server.MaxConcurrent < 0 {
		errs.Add("server.max_concurrent must be >= 0")
	}
	if c.Server.MaxBodyBytes < 0 {
		errs.Add("server.max_body_bytes must be >= 0")
	}
}

// validateListenAddress validates a listen address in host:port format.
func validateListenAddress(addr string, errs *ValidationError) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", addr)
		return
	}
	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " \t\n") {
		errs.Add("server.listen host contains invalid characters")
	}
	if port == "" {
		errs.Add("server.listen port is required")
	}
}

func validateUpstream(c *Config, errs *ValidationError) {
	if c.Upstream.BaseURL != "" {
		u, err := url.Parse(c.Upstream.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.Addf("upstream.base_url must be an absolute URL (got %q)", c.Upstream.BaseURL)
		}
	}
	if c.Upstream.APIKey == "" {
		errs.Add("upstream.api_key is required")
	}
	if c.Upstream.TimeoutMS < 0 {
		errs.Add("upstream.timeout_ms must be >= 0")
	}
}

func validateQuota(c *Config, errs *ValidationError) {
	q := &c.Quota
	if !validStrategies[q.Strategy] {
		errs.Addf("quota.strategy is invalid (got %q, valid: cached, direct)", q.Strategy)
	}
	if q.DefaultLimit < 0 {
		errs.Add("quota.default_limit must be >= 0")
	}
	if q.Window < 0 {
		errs.Add("quota.window must be >= 0")
	}
	if q.FlushInterval < 0 {
		errs.Add("quota.flush_interval must be >= 0")
	}
	for field, v := range map[string]int{
		"max_windows_per_key":   q.MaxWindowsPerKey,
		"max_batch_size":        q.MaxBatchSize,
		"max_concurrent_writes": q.MaxConcurrentWrites,
		"dead_letter_capacity":  q.DeadLetterCapacity,
		"requests_per_minute":   q.RequestsPerMinute,
		"retry.max_attempts":    q.Retry.MaxAttempts,
	} {
		if v < 0 {
			errs.Addf("quota.%s must be >= 0 (got %d)", field, v)
		}
	}
	if q.Retry.MaxInterval > 0 && q.Retry.MaxInterval < q.Retry.InitialInterval {
		errs.Add("quota.retry.max_interval must be >= quota.retry.initial_interval")
	}
}

func validateStorage(c *Config, errs *ValidationError) {
	s := &c.Storage
	if !validStorageDrivers[s.Driver] {
		errs.Addf("storage.driver is invalid (got %q, valid: sqlite, memory)", s.Driver)
	}
	if s.RetentionSchedule != "" {
		if _, err := cron.ParseStandard(s.RetentionSchedule); err != nil {
			errs.Addf("storage.retention_schedule is invalid (got %q): %v", s.RetentionSchedule, err)
		}
	}
	if s.RetentionAge < 0 {
		errs.Add("storage.retention_age must be >= 0")
	}
	if s.Breaker.FailureThreshold < 0 || s.Breaker.HalfOpenProbes < 0 || s.Breaker.OpenDurationMS < 0 {
		errs.Add("storage.breaker values must be >= 0")
	}
}

func validateCache(c *Config, errs *ValidationError) {
	if !validCacheModes[c.Cache.Mode] {
		errs.Addf("cache.mode is invalid (got %q, valid: single, disabled)", c.Cache.Mode)
		return
	}
	cc := c.Cache.ToCache()
	if err := cc.Validate(); err != nil {
		errs.Add(err.Error())
	}
}

func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, text, pretty)",
			c.Logging.Format)
	}
}

func validateMetrics(c *Config, errs *ValidationError) {
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs.Addf("metrics.path must start with / (got %q)", c.Metrics.Path)
	}
}

func validateHealth(c *Config, errs *ValidationError) {
	h := &c.Health
	if h.HealthCheck.IntervalMS < 0 || h.HealthCheck.ProbeTimeoutMS < 0 {
		errs.Add("health.health_check values must be >= 0")
	}
	cb := &h.CircuitBreaker
	if cb.FailureThreshold < 0 || cb.HalfOpenProbes < 0 || cb.OpenDurationMS < 0 {
		errs.Add("health.circuit_breaker values must be >= 0")
	}
}
