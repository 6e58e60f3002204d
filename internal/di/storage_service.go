package di

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/storage"
)

// StorageService owns the persistence backend.
type StorageService struct {
	Store storage.Store
}

// NewStorage opens the backend named by storage.driver.
func NewStorage(i do.Injector) (*StorageService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cfg := cfgSvc.Get().Storage

	store, err := storage.New(storage.Config{
		Driver:      cfg.GetDriver(),
		Path:        cfg.GetPath(),
		BusyTimeout: cfg.BusyTimeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	loggerSvc.Logger.Info().
		Str("driver", cfg.GetDriver()).
		Str("path", cfg.GetPath()).
		Msg("storage opened")
	return &StorageService{Store: store}, nil
}

// Shutdown implements do.Shutdowner. Quota flushes run first because the
// quota service depends on this one.
func (s *StorageService) Shutdown() error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

// RetentionService prunes expired usage windows on a cron schedule.
type RetentionService struct {
	Retention *storage.Retention
}

// NewRetention builds the pruning scheduler. It does not start it.
func NewRetention(i do.Injector) (*RetentionService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	storageSvc := do.MustInvoke[*StorageService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cfg := cfgSvc.Get()

	retention, err := storage.NewRetention(
		storageSvc.Store,
		cfg.Storage.GetRetentionSchedule(),
		cfg.Storage.GetRetentionAge(cfg.Quota.GetWindow()),
		*loggerSvc.Logger,
	)
	if err != nil {
		return nil, err
	}
	return &RetentionService{Retention: retention}, nil
}

// Start schedules pruning until ctx ends or Shutdown runs.
func (r *RetentionService) Start(ctx context.Context) error {
	return r.Retention.Start(ctx)
}

// Shutdown implements do.ShutdownerWithContextAndError.
func (r *RetentionService) Shutdown(ctx context.Context) error {
	return r.Retention.Stop(ctx)
}
