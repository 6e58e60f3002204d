package config_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/cache"
	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/quota"
)

// assertOption is a generic helper for testing mo.Option getters.
func assertOption[T comparable](t *testing.T, name string, get func() mo.Option[T], wantSome bool, wantValue T) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		t.Parallel()
		opt := get()
		assert.Equal(t, wantSome, opt.IsPresent())
		if wantSome {
			assert.Equal(t, wantValue, opt.MustGet())
		}
	})
}

func TestServerConfigOptions(t *testing.T) {
	t.Parallel()

	empty := config.ServerConfig{}
	set := config.ServerConfig{TimeoutMS: 1500, MaxConcurrent: 8, MaxBodyBytes: 1 << 20}

	assertOption(t, "timeout unset", empty.GetTimeoutOption, false, 0)
	assertOption(t, "timeout set", set.GetTimeoutOption, true, 1500*time.Millisecond)
	assertOption(t, "concurrency unset", empty.GetMaxConcurrentOption, false, 0)
	assertOption(t, "concurrency set", set.GetMaxConcurrentOption, true, 8)
	assertOption(t, "body unset", empty.GetMaxBodyBytesOption, false, 0)
	assertOption(t, "body set", set.GetMaxBodyBytesOption, true, int64(1<<20))

	assert.Equal(t, config.DefaultListen, empty.GetListen())
	assert.False(t, empty.IsAdminEnabled())
	assert.True(t, (&config.ServerConfig{AdminToken: "x"}).IsAdminEnabled())
}

func TestUpstreamDefaults(t *testing.T) {
	t.Parallel()

	u := config.UpstreamConfig{}
	assert.Equal(t, "anthropic", u.GetName())
	assert.Equal(t, config.DefaultUpstreamURL, u.GetBaseURL())

	u.BaseURL = "http://localhost:9000/"
	assert.Equal(t, "http://localhost:9000", u.GetBaseURL())
}

func TestQuotaConfigDefaults(t *testing.T) {
	t.Parallel()

	q := config.QuotaConfig{}
	assert.Equal(t, config.StrategyCached, q.GetEffectiveStrategy())
	assert.Equal(t, quota.DefaultWindowDuration, q.GetWindow())
	assert.False(t, q.GetFlushIntervalOption().IsPresent())
	assert.False(t, q.GetRequestsPerMinuteOption().IsPresent())
	assert.Len(t, q.Options(), 6)

	q.FlushInterval = config.Duration(2 * time.Second)
	q.Window = config.Duration(3 * time.Hour)
	assert.Len(t, q.Options(), 7)
	assert.Equal(t, 3*time.Hour, q.GetWindow())
}

func TestStorageRetentionAgeNeverBelowTwoWindows(t *testing.T) {
	t.Parallel()

	s := config.StorageConfig{RetentionAge: config.Duration(time.Hour)}
	assert.Equal(t, 10*time.Hour, s.GetRetentionAge(5*time.Hour))

	s.RetentionAge = config.Duration(72 * time.Hour)
	assert.Equal(t, 72*time.Hour, s.GetRetentionAge(5*time.Hour))

	assert.Equal(t, "sqlite", s.GetDriver())
	assert.Equal(t, config.DefaultStoragePath, s.GetPath())
	assert.Equal(t, config.DefaultRetentionSchedule, s.GetRetentionSchedule())
	assert.Equal(t, 10*time.Second, s.GetWriteTimeout())
}

func TestCacheConfigToCacheFillsDefaults(t *testing.T) {
	t.Parallel()

	c := config.CacheConfig{}
	cc := c.ToCache()
	assert.Equal(t, cache.ModeSingle, cc.Mode)
	assert.Equal(t, cache.DefaultRistrettoConfig(), cc.Ristretto)
	require.NoError(t, cc.Validate())
	assert.Equal(t, config.DefaultCacheTTL, c.GetTTL())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()
			l := config.LoggingConfig{Level: tt.level}
			assert.Equal(t, tt.want, l.ParseLevel())
		})
	}
}

func TestDurationText(t *testing.T) {
	t.Parallel()

	var d config.Duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", string(text))

	require.NoError(t, d.UnmarshalText([]byte("  ")))
	assert.Zero(t, d)
	require.Error(t, d.UnmarshalText([]byte("forever")))
}
