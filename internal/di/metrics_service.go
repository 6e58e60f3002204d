package di

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/cache"
	"github.com/omarluq/cc-gateway/internal/quota"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "ccgateway"

// MetricsService owns the Prometheus registry served on metrics.path.
type MetricsService struct {
	Registry *prometheus.Registry
}

// NewMetrics registers the quota collector, the key cache's counters when the
// cache keeps any, and the Go runtime and process collectors.
func NewMetrics(i do.Injector) (*MetricsService, error) {
	quotaSvc := do.MustInvoke[*QuotaService](i)
	cacheSvc := do.MustInvoke[*CacheService](i)

	registry := prometheus.NewRegistry()
	if err := registry.Register(quota.NewPrometheusCollector(MetricsNamespace, quotaSvc.Checker)); err != nil {
		return nil, err
	}
	if sp, ok := cacheSvc.Cache.(cache.StatsProvider); ok {
		if err := registry.Register(cache.NewCollector(MetricsNamespace, sp)); err != nil {
			return nil, err
		}
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsService{Registry: registry}, nil
}
