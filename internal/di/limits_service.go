package di

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/proxy"
	"github.com/omarluq/cc-gateway/internal/ratelimit"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTimeout   = 10 * time.Minute
)

// LimitsService holds the global concurrency limiter and the per-key request
// limiter. Both follow config reloads.
type LimitsService struct {
	Concurrency *proxy.ConcurrencyLimiter
	Requests    *ratelimit.KeyedLimiter
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewLimits creates both limiters from the current config.
func NewLimits(i do.Injector) (*LimitsService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	cfg := cfgSvc.Get()

	svc := &LimitsService{
		Concurrency: proxy.NewConcurrencyLimiter(int64(cfg.Server.GetMaxConcurrentOption().OrElse(0))),
		Requests:    ratelimit.NewKeyedLimiter(cfg.Quota.GetRequestsPerMinuteOption().OrElse(0)),
	}
	cfgSvc.OnReload(svc.apply)
	return svc, nil
}

func (s *LimitsService) apply(newCfg *config.Config) error {
	if newCfg == nil {
		return nil
	}

	newLimit := int64(newCfg.Server.GetMaxConcurrentOption().OrElse(0))
	if oldLimit := s.Concurrency.GetLimit(); newLimit != oldLimit {
		s.Concurrency.SetLimit(newLimit)
		log.Info().
			Int64("old_limit", oldLimit).
			Int64("new_limit", newLimit).
			Msg("concurrency limit updated via hot-reload")
	}

	s.Requests.SetRPM(newCfg.Quota.GetRequestsPerMinuteOption().OrElse(0))
	return nil
}

// Start sweeps idle per-key buckets until ctx ends or Shutdown runs.
func (s *LimitsService) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Requests.Sweep(limiterIdleTimeout); n > 0 {
					log.Debug().Int("removed", n).Msg("swept idle rate limit buckets")
				}
			}
		}
	}()
}

// Shutdown implements do.Shutdowner.
func (s *LimitsService) Shutdown() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
