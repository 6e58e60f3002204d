package di

import (
	"context"
	"sync"

	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/health"
)

// HealthTrackerService owns the per-dependency circuit breakers.
type HealthTrackerService struct {
	Tracker *health.Tracker
}

// NewHealthTracker creates the tracker. health.circuit_breaker configures the
// upstream breaker and storage.breaker the storage one.
func NewHealthTracker(i do.Injector) (*HealthTrackerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cfg := cfgSvc.Get()

	tracker := health.NewTracker(cfg.Health.CircuitBreaker, loggerSvc.Logger)
	tracker.Configure(health.DependencyStorage, cfg.Storage.Breaker)
	return &HealthTrackerService{Tracker: tracker}, nil
}

// Storage returns the breaker guarding storage writes.
func (h *HealthTrackerService) Storage() *health.CircuitBreaker {
	return h.Tracker.Circuit(health.DependencyStorage)
}

// Upstream returns the breaker guarding upstream calls.
func (h *HealthTrackerService) Upstream() *health.CircuitBreaker {
	return h.Tracker.Circuit(health.DependencyUpstream)
}

// CheckerService runs the periodic dependency probes.
type CheckerService struct {
	Checker *health.Checker
	mu      sync.Mutex
	started bool
}

// NewChecker registers the storage ping and an upstream reachability probe.
func NewChecker(i do.Injector) (*CheckerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)
	storageSvc := do.MustInvoke[*StorageService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cfg := cfgSvc.Get()

	checker := health.NewChecker(trackerSvc.Tracker, cfg.Health.HealthCheck, loggerSvc.Logger)
	checker.Register(health.DependencyStorage, storageSvc.Store.Ping)

	baseURL := cfg.Upstream.GetBaseURL()
	checker.Register(health.DependencyUpstream, health.HTTPProbe(baseURL, nil))
	loggerSvc.Logger.Debug().Str("base_url", baseURL).Msg("registered health checks")

	return &CheckerService{Checker: checker}, nil
}

// Start begins periodic probing until ctx ends or Shutdown runs.
func (h *CheckerService) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.Checker.Start(ctx)
}

// Shutdown implements do.Shutdowner.
func (h *CheckerService) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		h.Checker.Stop()
		h.started = false
	}
}
