package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/cc-gateway/internal/auth"
)

// AuthService resolves client keys through the cache and storage.
type AuthService struct {
	Resolver *auth.KeyResolver
	KeyAuth  *auth.ChainAuthenticator
}

// NewAuth creates the key resolver and the x-api-key / bearer authenticator.
func NewAuth(i do.Injector) (*AuthService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	storageSvc := do.MustInvoke[*StorageService](i)
	cacheSvc := do.MustInvoke[*CacheService](i)

	resolver := auth.NewKeyResolver(storageSvc.Store, cacheSvc.Cache, cfgSvc.Get().Cache.GetTTL())
	return &AuthService{
		Resolver: resolver,
		KeyAuth:  auth.NewKeyAuthenticator(resolver),
	}, nil
}
