package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/config"
)

// ConfigService holds the live configuration and its file watcher.
// Handlers read through Runtime so a reload reaches new requests while
// in-flight ones keep the snapshot they started with.
type ConfigService struct {
	Runtime *config.Runtime
	watcher *config.Watcher
	path    string
}

// Get returns the current configuration.
func (c *ConfigService) Get() *config.Config {
	return c.Runtime.Get()
}

// Path returns the file the configuration was loaded from.
func (c *ConfigService) Path() string {
	return c.path
}

// OnReload registers fn to run after each accepted reload. It is a no-op when
// the watcher could not be created.
func (c *ConfigService) OnReload(fn config.ReloadCallback) {
	if c.watcher != nil {
		c.watcher.OnReload(fn)
	}
}

// StartWatching begins watching the config file until ctx ends.
// Call it once the container is fully built.
func (c *ConfigService) StartWatching(ctx context.Context) {
	if c.watcher == nil {
		return
	}

	go func() {
		if err := c.watcher.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("config watcher error")
		}
	}()

	log.Info().Str("path", c.path).Msg("config file watcher started")
}

// Shutdown implements do.Shutdowner.
func (c *ConfigService) Shutdown() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// NewConfig loads and validates the configuration and creates a watcher.
// The watcher is created but not started.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	svc := &ConfigService{
		Runtime: config.NewRuntime(cfg),
		path:    path,
	}

	watcher, err := config.NewWatcher(path, config.WithWatcherLogger(log.Logger))
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watcher creation failed, hot-reload disabled")
		return svc, nil
	}
	svc.watcher = watcher
	// registered first so later callbacks observe the new snapshot
	watcher.OnReload(func(newCfg *config.Config) error {
		svc.Runtime.Store(newCfg)
		log.Info().Str("path", path).Msg("config hot-reloaded successfully")
		return nil
	})

	return svc, nil
}
