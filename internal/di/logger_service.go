package di

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/cache"
	"github.com/omarluq/cc-gateway/internal/proxy"
)

// LoggerService wraps the zerolog logger for DI.
type LoggerService struct {
	Logger *zerolog.Logger
}

// NewLogger creates the root logger from configuration and hands it to the
// packages that keep a package-level logger.
func NewLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	logger, err := proxy.NewLogger(cfgSvc.Get().Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	cache.SetLogger(&logger)

	return &LoggerService{Logger: &logger}, nil
}
