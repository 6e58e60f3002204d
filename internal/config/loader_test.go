package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/cache"
	"github.com/omarluq/cc-gateway/internal/config"
)

const sampleYAML = `
server:
  listen: "0.0.0.0:9000"
  admin_token: "${GW_TEST_ADMIN}"
  max_body_bytes: 1048576
upstream:
  base_url: "https://api.anthropic.com"
  api_key: "${GW_TEST_UPSTREAM}"
quota:
  strategy: cached
  default_limit: 500000
  window: 5h
  flush_interval: 2s
  retry:
    max_attempts: 4
    initial_interval: 500ms
    max_interval: 30s
  reserve_max_tokens: true
storage:
  driver: sqlite
  path: /var/lib/cc-gateway/usage.db
  retention_age: 48h
  breaker:
    failure_threshold: 3
cache:
  mode: single
  ttl: 30s
logging:
  level: debug
  format: console
metrics:
  enabled: true
`

const sampleTOML = `
[server]
listen = "127.0.0.1:8080"

[upstream]
api_key = "${GW_TEST_UPSTREAM}"

[quota]
strategy = "direct"
default_limit = 1000
window = "2h"

[storage]
driver = "memory"

[cache]
mode = "disabled"
`

func TestLoadYAML(t *testing.T) {
	t.Setenv("GW_TEST_ADMIN", "admin-secret")
	t.Setenv("GW_TEST_UPSTREAM", "sk-ant-123")

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, "admin-secret", cfg.Server.AdminToken)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "sk-ant-123", cfg.Upstream.APIKey)

	assert.Equal(t, int64(500_000), cfg.Quota.DefaultLimit)
	assert.Equal(t, 5*time.Hour, cfg.Quota.GetWindow())
	assert.Equal(t, 2*time.Second, cfg.Quota.FlushInterval.Std())
	assert.Equal(t, 4, cfg.Quota.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Quota.RetryPolicy().InitialInterval)
	assert.True(t, cfg.Quota.ReserveMaxTokens)

	assert.Equal(t, 48*time.Hour, cfg.Storage.RetentionAge.Std())
	assert.Equal(t, 3, cfg.Storage.Breaker.FailureThreshold)
	assert.Equal(t, cache.ModeSingle, cfg.Cache.Mode)
	assert.Equal(t, 30*time.Second, cfg.Cache.GetTTL())
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadTOMLByExtension(t *testing.T) {
	t.Setenv("GW_TEST_UPSTREAM", "sk-ant-toml")

	path := filepath.Join(t.TempDir(), "gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o600))

	cfg, err := config.LoadAndValidate(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
	assert.Equal(t, "sk-ant-toml", cfg.Upstream.APIKey)
	assert.Equal(t, config.StrategyDirect, cfg.Quota.GetEffectiveStrategy())
	assert.Equal(t, 2*time.Hour, cfg.Quota.GetWindow())
	assert.Equal(t, cache.ModeDisabled, cfg.Cache.Mode)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, config.FormatTOML, config.DetectFormat("a/b/gateway.TOML"))
	assert.Equal(t, config.FormatYAML, config.DetectFormat("gateway.yml"))
	assert.Equal(t, config.FormatYAML, config.DetectFormat("gateway"))
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = config.LoadFromReader(strings.NewReader("server: [unterminated"))
	require.Error(t, err)

	_, err = config.LoadFromReader(strings.NewReader("quota:\n  window: eventually\n"))
	require.Error(t, err)

	_, err = config.LoadFromReaderWithFormat(strings.NewReader(""), config.Format("ini"))
	require.Error(t, err)
}

func TestLoadAndValidateRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quota:\n  strategy: psychic\n"), 0o600))

	_, err := config.LoadAndValidate(path)
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
}
