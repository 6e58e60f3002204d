package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/omarluq/cc-gateway/internal/cache"
	"github.com/omarluq/cc-gateway/internal/storage"
)

const keyCachePrefix = "key:"

// KeyLookup finds a key record by the hash of its secret.
type KeyLookup interface {
	LookupKey(ctx context.Context, keyHash string) (storage.KeyRecord, error)
}

// KeyResolver maps presented secrets to key records, caching hits for ttl.
type KeyResolver struct {
	store   KeyLookup
	records *cache.Typed[storage.KeyRecord]
	ttl     time.Duration
}

// NewKeyResolver creates a resolver. A nil cache resolves straight from store.
func NewKeyResolver(store KeyLookup, c cache.Cache, ttl time.Duration) *KeyResolver {
	r := &KeyResolver{store: store, ttl: ttl}
	if c != nil {
		r.records = cache.NewTyped[storage.KeyRecord](c, keyCachePrefix)
	}
	return r
}

// Resolve returns the enabled key record for secret.
func (k *KeyResolver) Resolve(ctx context.Context, secret string) mo.Result[storage.KeyRecord] {
	hash := storage.HashKey(secret)

	rec, err := k.lookup(ctx, hash)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return mo.Err[storage.KeyRecord](ErrInvalidKey)
	case err != nil:
		return mo.Err[storage.KeyRecord](fmt.Errorf("resolve key: %w", err))
	case !rec.Enabled:
		return mo.Err[storage.KeyRecord](ErrKeyDisabled)
	}
	return mo.Ok(rec)
}

func (k *KeyResolver) lookup(ctx context.Context, hash string) (storage.KeyRecord, error) {
	if k.records != nil {
		rec, err := k.records.Get(ctx, hash)
		if err == nil {
			rec.KeyHash = hash
			return rec, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("key cache read failed")
		}
	}

	rec, err := k.store.LookupKey(ctx, hash)
	if err != nil {
		return storage.KeyRecord{}, err
	}
	if k.records != nil {
		if err := k.records.Set(ctx, hash, rec, k.ttl); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("key cache write failed")
		}
	}
	return rec, nil
}

// Invalidate drops the cached record for keyHash so the next request
// re-reads it from the store.
func (k *KeyResolver) Invalidate(ctx context.Context, keyHash string) error {
	if k.records == nil {
		return nil
	}
	return k.records.Invalidate(ctx, keyHash)
}

// keyAuthenticator resolves one header's credential.
type keyAuthenticator struct {
	resolver *KeyResolver
	extract  func(*http.Request) (string, error)
	typ      Type
}

// NewAPIKeyAuthenticator authenticates the x-api-key header.
func NewAPIKeyAuthenticator(resolver *KeyResolver) Authenticator {
	return &keyAuthenticator{resolver: resolver, extract: apiKeyFrom, typ: TypeAPIKey}
}

// NewBearerAuthenticator authenticates an Authorization: Bearer token.
func NewBearerAuthenticator(resolver *KeyResolver) Authenticator {
	return &keyAuthenticator{resolver: resolver, extract: bearerFrom, typ: TypeBearer}
}

// NewKeyAuthenticator accepts either header, x-api-key first.
func NewKeyAuthenticator(resolver *KeyResolver) *ChainAuthenticator {
	return NewChainAuthenticator(NewAPIKeyAuthenticator(resolver), NewBearerAuthenticator(resolver))
}

func (a *keyAuthenticator) Validate(r *http.Request) Result {
	secret, err := a.extract(r)
	if err != nil {
		return failure(a.typ, true, err)
	}
	if secret == "" {
		return failure(a.typ, false, ErrMissingCredential)
	}

	rec, err := a.resolver.Resolve(r.Context(), secret).Get()
	if err != nil {
		return failure(a.typ, true, err)
	}
	return Result{Type: a.typ, Key: rec, Presented: true, Valid: true}
}

func (a *keyAuthenticator) Type() Type {
	return a.typ
}
