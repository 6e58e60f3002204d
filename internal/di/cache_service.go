package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/cache"
)

// CacheService wraps the key-record cache.
type CacheService struct {
	Cache cache.Cache
}

// NewCache creates the cache selected by cache.mode.
func NewCache(i do.Injector) (*CacheService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	do.MustInvoke[*LoggerService](i)

	cacheCfg := cfgSvc.Get().Cache.ToCache()
	c, err := cache.New(&cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &CacheService{Cache: c}, nil
}

// Shutdown implements do.Shutdowner.
func (c *CacheService) Shutdown() error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}
