package di

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/health"
	"github.com/omarluq/cc-gateway/internal/quota"
	"github.com/omarluq/cc-gateway/internal/storage"
)

// QuotaService owns the quota checker selected by quota.strategy.
type QuotaService struct {
	Checker  quota.Checker
	Strategy string
}

// NewQuota builds the checker. The cached strategy keeps windows in memory and
// writes back in batches; direct answers from storage and writes through.
// Both write through the storage circuit breaker.
func NewQuota(i do.Injector) (*QuotaService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	storageSvc := do.MustInvoke[*StorageService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cfg := cfgSvc.Get()

	writer := &guardedWriter{
		store:   storageSvc.Store,
		breaker: trackerSvc.Storage(),
		timeout: cfg.Storage.GetWriteTimeout,
	}
	logger := loggerSvc.Logger.With().Str("component", "quota").Logger()
	opts := append(cfg.Quota.Options(), quota.WithLogger(logger))

	strategy := cfg.Quota.GetEffectiveStrategy()
	svc := &QuotaService{Strategy: strategy}
	switch strategy {
	case config.StrategyDirect:
		svc.Checker = quota.NewDirectChecker(storageSvc.Store, writer, opts...)
	default:
		tracker := quota.NewTracker(append(opts, quota.WithWindowSource(storageSvc.Store))...)
		tracker.SetPersistenceCallback(writer.ApplyUpdate)
		svc.Checker = tracker
	}

	logger.Info().
		Str("strategy", strategy).
		Dur("window", cfg.Quota.GetWindow()).
		Int64("default_limit", cfg.Quota.DefaultLimit).
		Msg("quota checker ready")
	return svc, nil
}

// Shutdown implements do.ShutdownerWithContextAndError. Pending usage is
// flushed before storage closes.
func (q *QuotaService) Shutdown(ctx context.Context) error {
	return q.Checker.Shutdown(ctx)
}

// guardedWriter persists usage through the storage breaker, bounding each
// write by storage.write_timeout.
type guardedWriter struct {
	store   storage.UsageStore
	breaker *health.CircuitBreaker
	timeout func() time.Duration
}

func (g *guardedWriter) ApplyUpdate(ctx context.Context, update quota.PendingUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.store.ApplyUpdate(ctx, update)
	})
}
