package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/health"
)

func TestAdmin_RequiresToken(t *testing.T) {
	t.Parallel()

	g := newGateway(t, jsonReply(http.StatusOK, messageJSON), nil)

	rr := g.do(http.MethodGet, "/admin/quota/metrics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = g.do(http.MethodGet, "/admin/quota/metrics", "", http.Header{"Authorization": {"Bearer " + g.secret}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "client keys are not admin tokens")
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	t.Parallel()

	g := newGateway(t, jsonReply(http.StatusOK, messageJSON), func(c *config.Config) {
		c.Server.AdminToken = ""
	})
	assert.Equal(t, http.StatusNotFound, g.admin(http.MethodGet, "/admin/quota/metrics").Code)
}

func TestAdmin_MetricsAndReset(t *testing.T) {
	t.Parallel()

	g := newGateway(t, jsonReply(http.StatusOK, messageJSON), func(c *config.Config) {
		c.Quota.DefaultLimit = 50
	})
	require.Equal(t, http.StatusOK, g.send(simpleRequest).Code)
	require.Equal(t, http.StatusOK, g.send(simpleRequest).Code)
	require.Equal(t, http.StatusTooManyRequests, g.send(simpleRequest).Code)

	rr := g.admin(http.MethodGet, "/admin/quota/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Equal(t, int64(3), gjson.Get(body, "total_checks").Int())
	assert.Equal(t, int64(2), gjson.Get(body, "allowed_checks").Int())
	assert.Equal(t, int64(1), gjson.Get(body, "denied_checks").Int())
	assert.True(t, gjson.Get(body, "cache_hit_rate").Exists())

	assert.Equal(t, http.StatusNoContent, g.admin(http.MethodPost, "/admin/quota/metrics/reset").Code)
	rr = g.admin(http.MethodGet, "/admin/quota/metrics")
	assert.Equal(t, int64(0), gjson.Get(rr.Body.String(), "total_checks").Int())
}

func TestAdmin_FlushPersistsUsage(t *testing.T) {
	t.Parallel()

	g := newGateway(t, jsonReply(http.StatusOK, messageJSON), nil)
	require.Equal(t, http.StatusOK, g.send(simpleRequest).Code)

	rr := g.admin(http.MethodPost, "/admin/quota/flush")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(0), gjson.Get(rr.Body.String(), "failed").Int())

	windows, err := g.store.LoadWindows(context.Background(), g.key.ID)
	require.NoError(t, err)
	var total int64
	for _, w := range windows {
		total += w.TokensUsed
	}
	assert.Equal(t, int64(42), total)
}

func TestAdmin_DeadLettersEmpty(t *testing.T) {
	t.Parallel()

	g := newGateway(t, jsonReply(http.StatusOK, messageJSON), nil)
	rr := g.admin(http.MethodGet, "/admin/quota/dead-letters")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(0), gjson.Get(rr.Body.String(), "count").Int())
	assert.True(t, gjson.Get(rr.Body.String(), "dead_letters").IsArray())
}

func TestAdmin_DisableKey(t *testing.T) {
	t.Parallel()

	g := newGateway(t, jsonReply(http.StatusOK, messageJSON), nil)
	require.Equal(t, http.StatusOK, g.send(simpleRequest).Code)

	rr := g.admin(http.MethodPost, "/admin/keys/"+g.key.ID+"/disable")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, gjson.Get(rr.Body.String(), "enabled").Bool())
	assert.False(t, gjson.Get(rr.Body.String(), "key_hash").Exists())

	assert.Equal(t, http.StatusUnauthorized, g.send(simpleRequest).Code)

	require.Equal(t, http.StatusOK, g.admin(http.MethodPost, "/admin/keys/"+g.key.ID+"/enable").Code)
	assert.Equal(t, http.StatusOK, g.send(simpleRequest).Code)

	assert.Equal(t, http.StatusNotFound, g.admin(http.MethodPost, "/admin/keys/missing/disable").Code)

	rr = g.admin(http.MethodGet, "/admin/keys")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, g.key.ID, gjson.Get(rr.Body.String(), "keys.0.id").String())
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	g := newGateway(t, jsonReply(http.StatusOK, messageJSON), nil)
	rr := g.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	off := newGateway(t, jsonReply(http.StatusOK, messageJSON), func(c *config.Config) {
		c.Metrics.Enabled = false
	})
	assert.Equal(t, http.StatusNotFound, off.do(http.MethodGet, "/metrics", "", nil).Code)
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	t.Run("no checker", func(t *testing.T) {
		rr := httptest.NewRecorder()
		HealthHandler(nil)(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, health.StatusOK, gjson.Get(rr.Body.String(), "status").String())
	})

	t.Run("degraded", func(t *testing.T) {
		tracker := health.NewTracker(health.CircuitBreakerConfig{}, nil)
		checker := health.NewChecker(tracker, health.CheckConfig{ProbeTimeoutMS: 100}, nil)
		checker.Register(health.DependencyStorage, func(context.Context) error { return nil })
		checker.Register(health.DependencyUpstream, func(context.Context) error {
			return errors.New("unreachable")
		})

		rr := httptest.NewRecorder()
		HealthHandler(checker)(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		body := rr.Body.String()
		assert.Equal(t, health.StatusDegraded, gjson.Get(body, "status").String())
		assert.Equal(t, health.StatusOK, gjson.Get(body, "components.storage.status").String())
		assert.Contains(t, gjson.Get(body, "components.upstream.error").String(), "unreachable")
	})

	t.Run("cached report", func(t *testing.T) {
		tracker := health.NewTracker(health.CircuitBreakerConfig{}, nil)
		checker := health.NewChecker(tracker, health.CheckConfig{}, nil)
		calls := 0
		checker.Register(health.DependencyStorage, func(context.Context) error { calls++; return nil })
		checker.Check(context.Background())

		rr := httptest.NewRecorder()
		HealthHandler(checker)(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, calls)
	})
}
