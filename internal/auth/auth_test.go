package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/cc-gateway/internal/auth"
	"github.com/omarluq/cc-gateway/internal/cache"
	"github.com/omarluq/cc-gateway/internal/storage"
)

type countingLookup struct {
	store *storage.MemoryStore
	calls atomic.Int32
}

func (c *countingLookup) LookupKey(ctx context.Context, hash string) (storage.KeyRecord, error) {
	c.calls.Add(1)
	return c.store.LookupKey(ctx, hash)
}

type fixture struct {
	store    *storage.MemoryStore
	lookup   *countingLookup
	resolver *auth.KeyResolver
	secret   string
	rec      storage.KeyRecord
}

func newFixture(t *testing.T, c cache.Cache) *fixture {
	t.Helper()

	store := storage.NewMemoryStore()
	rec, secret := storage.NewKey("ci", 1000, time.Hour, time.Now())
	require.NoError(t, store.CreateKey(context.Background(), rec))

	lookup := &countingLookup{store: store}
	return &fixture{
		store:    store,
		lookup:   lookup,
		resolver: auth.NewKeyResolver(lookup, c, time.Minute),
		secret:   secret,
		rec:      rec,
	}
}

func request(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/messages", http.NoBody)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestKeyAuthenticatorAcceptsBothHeaders(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	a := auth.NewKeyAuthenticator(f.resolver)

	res := a.Validate(request(map[string]string{"x-api-key": f.secret}))
	require.True(t, res.Valid, res.Error)
	assert.Equal(t, auth.TypeAPIKey, res.Type)
	assert.Equal(t, f.rec.ID, res.Key.ID)

	res = a.Validate(request(map[string]string{"Authorization": "Bearer " + f.secret}))
	require.True(t, res.Valid, res.Error)
	assert.Equal(t, auth.TypeBearer, res.Type)
	assert.Equal(t, int64(1000), res.Key.TokenLimit)
}

func TestKeyAuthenticatorFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	a := auth.NewKeyAuthenticator(f.resolver)

	tests := []struct {
		headers map[string]string
		want    error
		name    string
	}{
		{map[string]string{}, auth.ErrMissingCredential, "no credentials"},
		{map[string]string{"x-api-key": "sk-gw-unknown"}, auth.ErrInvalidKey, "unknown key"},
		{map[string]string{"Authorization": "Basic Zm9vOmJhcg=="}, auth.ErrInvalidScheme, "basic auth"},
		{map[string]string{"Authorization": "Bearer "}, auth.ErrInvalidScheme, "empty bearer"},
		{map[string]string{"Authorization": "Bearer sk-gw-unknown"}, auth.ErrInvalidKey, "unknown bearer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := a.Validate(request(tt.headers))
			assert.False(t, res.Valid)
			require.ErrorIs(t, res.Err, tt.want)
			assert.Equal(t, tt.want.Error(), res.Error)
		})
	}
}

func TestDisabledKeyRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.store.SetKeyEnabled(context.Background(), f.rec.ID, false))

	res := auth.NewKeyAuthenticator(f.resolver).Validate(request(map[string]string{"x-api-key": f.secret}))
	assert.False(t, res.Valid)
	require.ErrorIs(t, res.Err, auth.ErrKeyDisabled)
}

func TestResolverCachesRecords(t *testing.T) {
	t.Parallel()

	c, err := cache.New(&cache.Config{Mode: cache.ModeSingle, Ristretto: cache.DefaultRistrettoConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	f := newFixture(t, c)
	ctx := context.Background()

	require.NoError(t, f.resolver.Resolve(ctx, f.secret).Error())
	// ristretto admits writes asynchronously
	require.Eventually(t, func() bool {
		before := f.lookup.calls.Load()
		rec, err := f.resolver.Resolve(ctx, f.secret).Get()
		return err == nil && rec.ID == f.rec.ID && f.lookup.calls.Load() == before
	}, time.Second, 5*time.Millisecond)

	// a cached record is served until invalidated
	require.NoError(t, f.store.SetKeyEnabled(ctx, f.rec.ID, false))
	require.NoError(t, f.resolver.Invalidate(ctx, f.rec.KeyHash))
	require.Eventually(t, func() bool {
		_, err := f.resolver.Resolve(ctx, f.secret).Get()
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestStaticTokenAuthenticator(t *testing.T) {
	t.Parallel()

	a := auth.NewStaticTokenAuthenticator("admin-secret")
	assert.Equal(t, auth.TypeBearer, a.Type())

	assert.True(t, a.Validate(request(map[string]string{"Authorization": "Bearer admin-secret"})).Valid)
	assert.True(t, a.Validate(request(map[string]string{"Authorization": "bearer admin-secret"})).Valid)

	res := a.Validate(request(map[string]string{"Authorization": "Bearer nope"}))
	assert.False(t, res.Valid)
	assert.True(t, res.Presented)

	res = a.Validate(request(nil))
	require.ErrorIs(t, res.Err, auth.ErrMissingCredential)
}

func TestSecret(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a", auth.Secret(request(map[string]string{"x-api-key": "a", "Authorization": "Bearer b"})))
	assert.Equal(t, "b", auth.Secret(request(map[string]string{"Authorization": "Bearer b"})))
	assert.Empty(t, auth.Secret(request(nil)))
}

func TestEmptyChain(t *testing.T) {
	t.Parallel()

	chain := auth.NewChainAuthenticator()
	assert.Equal(t, auth.TypeNone, chain.Type())
	res := chain.ValidateResult(request(nil))
	assert.True(t, res.IsError())
}
