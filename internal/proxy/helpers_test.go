package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/auth"
	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/health"
	"github.com/omarluq/cc-gateway/internal/providers"
	"github.com/omarluq/cc-gateway/internal/quota"
	"github.com/omarluq/cc-gateway/internal/ratelimit"
	"github.com/omarluq/cc-gateway/internal/storage"
)

const (
	testAdminToken  = "admin-secret-token"
	testUpstreamKey = "sk-ant-upstream"
)

// capturedRequest is what the fake upstream saw.
type capturedRequest struct {
	Header http.Header
	Body   string
}

// gateway is a fully wired handler in front of a fake upstream.
type gateway struct {
	handler  http.Handler
	store    *storage.MemoryStore
	tracker  *quota.Tracker
	breaker  *health.CircuitBreaker
	runtime  *config.Runtime
	key      storage.KeyRecord
	secret   string
	mu       sync.Mutex
	received []capturedRequest
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{AdminToken: testAdminToken},
		Upstream: config.UpstreamConfig{APIKey: testUpstreamKey},
		Quota:    config.QuotaConfig{DefaultLimit: 1000},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
}

func newGateway(t *testing.T, upstream http.HandlerFunc, mutate func(*config.Config)) *gateway {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	g := &gateway{
		store:   storage.NewMemoryStore(),
		runtime: config.NewRuntime(cfg),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		g.mu.Lock()
		g.received = append(g.received, capturedRequest{Header: r.Header.Clone(), Body: string(body)})
		g.mu.Unlock()
		upstream(w, r)
	}))
	t.Cleanup(srv.Close)

	g.tracker = quota.NewTracker(quota.WithWindowSource(g.store))
	g.tracker.SetPersistenceCallback(g.store.ApplyUpdate)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.tracker.Shutdown(ctx)
	})

	rec, secret := storage.NewKey("test", 0, 0, time.Now())
	require.NoError(t, g.store.CreateKey(context.Background(), rec))
	g.key, g.secret = rec, secret

	g.breaker = health.NewCircuitBreaker(health.DependencyUpstream,
		health.CircuitBreakerConfig{FailureThreshold: 2, OpenDurationMS: 60_000, HalfOpenProbes: 1}, nil)
	up, err := NewUpstream(providers.NewAnthropicProvider("anthropic", srv.URL), testUpstreamKey, g.breaker, nil)
	require.NoError(t, err)

	resolver := auth.NewKeyResolver(g.store, nil, time.Minute)
	var limiter *ratelimit.KeyedLimiter
	if cfg.Quota.RequestsPerMinute > 0 {
		limiter = ratelimit.NewKeyedLimiter(cfg.Quota.RequestsPerMinute)
	}

	g.handler = SetupRoutes(RouteDeps{
		Runtime:     g.runtime,
		Checker:     g.tracker,
		Upstream:    up,
		KeyAuth:     auth.NewKeyAuthenticator(resolver),
		Keys:        g.store,
		Resolver:    resolver,
		RateLimiter: limiter,
		Concurrency: NewConcurrencyLimiter(0),
		Registry:    prometheus.NewRegistry(),
		Logger:      zerolog.Nop(),
	})
	return g
}

func (g *gateway) requests() []capturedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]capturedRequest(nil), g.received...)
}

func (g *gateway) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	g.handler.ServeHTTP(rr, req)
	return rr
}

func (g *gateway) send(body string) *httptest.ResponseRecorder {
	return g.do(http.MethodPost, "/v1/messages", body, http.Header{"X-Api-Key": {g.secret}})
}

func (g *gateway) admin(method, path string) *httptest.ResponseRecorder {
	return g.do(method, path, "", http.Header{"Authorization": {"Bearer " + testAdminToken}})
}

// used reports the key's active usage as the tracker sees it.
func (g *gateway) used(t *testing.T) int64 {
	t.Helper()
	res, err := g.tracker.Check(context.Background(), g.key.ID, quota.Config{Limit: 1 << 40}, 0)
	require.NoError(t, err)
	return res.TokensUsed
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

const messageJSON = `{"id":"msg_1","type":"message","role":"assistant",` +
	`"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":12,"output_tokens":30}}`

const messageSSE = "event: message_start\n" +
	`data: {"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":25,"output_tokens":1}}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}` + "\n\n" +
	"event: message_delta\n" +
	`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":15}}` + "\n\n" +
	"event: message_stop\n" +
	`data: {"type":"message_stop"}` + "\n\n"

func sseReply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
	}
}
