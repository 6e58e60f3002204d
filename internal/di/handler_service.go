package di

import (
	"fmt"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/providers"
	"github.com/omarluq/cc-gateway/internal/proxy"
)

// HandlerService wraps the HTTP handler.
type HandlerService struct {
	Handler  http.Handler
	Upstream *proxy.Upstream
}

// NewHandler creates the upstream proxy and the routed handler with all
// middleware.
func NewHandler(i do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	storageSvc := do.MustInvoke[*StorageService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	checkerSvc := do.MustInvoke[*CheckerService](i)
	quotaSvc := do.MustInvoke[*QuotaService](i)
	authSvc := do.MustInvoke[*AuthService](i)
	limitsSvc := do.MustInvoke[*LimitsService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)
	cfg := cfgSvc.Get()

	provider := providers.NewAnthropicProvider(cfg.Upstream.GetName(), cfg.Upstream.GetBaseURL())
	upstream, err := proxy.NewUpstream(provider, cfg.Upstream.APIKey, trackerSvc.Upstream(), upstreamTransport(cfg.Upstream.GetTimeoutOption().OrEmpty()))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream: %w", err)
	}

	handler := proxy.SetupRoutes(proxy.RouteDeps{
		Runtime:     cfgSvc.Runtime,
		Checker:     quotaSvc.Checker,
		Upstream:    upstream,
		KeyAuth:     authSvc.KeyAuth,
		Keys:        storageSvc.Store,
		Resolver:    authSvc.Resolver,
		RateLimiter: limitsSvc.Requests,
		Concurrency: limitsSvc.Concurrency,
		Health:      checkerSvc.Checker,
		Registry:    metricsSvc.Registry,
		Logger:      *loggerSvc.Logger,
	})

	return &HandlerService{Handler: handler, Upstream: upstream}, nil
}

// upstreamTransport bounds the wait for response headers. Streaming bodies
// are unaffected.
func upstreamTransport(headerTimeout time.Duration) http.RoundTripper {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return transport
}
