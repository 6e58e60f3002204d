package proxy

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/omarluq/cc-gateway/internal/auth"
	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/health"
	"github.com/omarluq/cc-gateway/internal/quota"
	"github.com/omarluq/cc-gateway/internal/ratelimit"
	"github.com/omarluq/cc-gateway/internal/storage"
)

// RouteDeps bundles everything SetupRoutes wires together. Optional fields
// may be nil.
type RouteDeps struct {
	Runtime     config.RuntimeConfig
	Checker     quota.Checker
	Upstream    *Upstream
	KeyAuth     auth.Authenticator
	Keys        storage.KeyStore
	Resolver    *auth.KeyResolver
	RateLimiter *ratelimit.KeyedLimiter
	Concurrency *ConcurrencyLimiter
	Health      *health.Checker
	Registry    *prometheus.Registry
	Logger      zerolog.Logger
}

// SetupRoutes creates the HTTP handler with all routes configured.
// Routes:
//   - POST /v1/messages - quota-checked proxy to the upstream (key auth)
//   - GET /v1/quota - the caller's current quota standing (key auth)
//   - GET /health - dependency health (no auth)
//   - GET <metrics.path> - Prometheus exposition, when metrics are enabled
//   - /admin/... - quota and key administration, when server.admin_token is set
func SetupRoutes(deps RouteDeps) http.Handler {
	mux := http.NewServeMux()
	cfg := deps.Runtime.Get()

	bodyLimit := func() int64 {
		return deps.Runtime.Get().Server.GetMaxBodyBytesOption().OrElse(0)
	}

	keyed := []Middleware{
		RequestIDMiddleware(deps.Logger),
		LoggingMiddleware(),
	}
	if deps.Concurrency != nil {
		keyed = append(keyed, ConcurrencyMiddleware(deps.Concurrency))
	}
	keyed = append(keyed, MaxBodyBytesMiddleware(bodyLimit), KeyAuthMiddleware(deps.KeyAuth))
	if deps.RateLimiter != nil {
		keyed = append(keyed, RateLimitMiddleware(deps.RateLimiter))
	}

	mux.Handle("POST /v1/messages", Chain(NewMessagesHandler(deps.Checker, deps.Upstream, deps.Runtime), keyed...))
	mux.Handle("GET /v1/quota", Chain(NewQuotaHandler(deps.Checker, deps.Runtime), keyed...))

	mux.Handle("GET /health", HealthHandler(deps.Health))

	if cfg.Metrics.Enabled && deps.Registry != nil {
		mux.Handle("GET "+cfg.Metrics.GetPath(), promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	if cfg.Server.IsAdminEnabled() {
		var onKey func(ctx context.Context, rec storage.KeyRecord)
		if deps.Resolver != nil {
			onKey = func(ctx context.Context, rec storage.KeyRecord) {
				if err := deps.Resolver.Invalidate(ctx, rec.KeyHash); err != nil {
					zerolog.Ctx(ctx).Warn().Err(err).Msg("key cache invalidation failed")
				}
			}
		}
		admin := NewAdminHandler(deps.Checker, deps.Keys, onKey)
		admin.Register(mux,
			RequestIDMiddleware(deps.Logger),
			LoggingMiddleware(),
			AdminAuthMiddleware(auth.NewStaticTokenAuthenticator(cfg.Server.AdminToken)),
		)
	}

	return mux
}
