package proxy

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/cc-gateway/internal/health"
	"github.com/omarluq/cc-gateway/internal/providers"
)

type upstreamCtxKey struct{}

// upstreamCall is the per-request state shared between the handler and the
// reverse proxy callbacks.
type upstreamCall struct {
	onUsage UsageFunc
	done    func(error)
	started time.Time
}

func withUpstreamCall(ctx context.Context, call *upstreamCall) context.Context {
	return context.WithValue(ctx, upstreamCtxKey{}, call)
}

func upstreamCallFrom(ctx context.Context) *upstreamCall {
	call, _ := ctx.Value(upstreamCtxKey{}).(*upstreamCall)
	return call
}

// Upstream relays requests to the provider with the gateway's own key and
// taps successful responses for token usage. Every call passes through the
// upstream circuit breaker.
type Upstream struct {
	provider providers.Provider
	breaker  *health.CircuitBreaker
	proxy    *httputil.ReverseProxy
	target   *url.URL
	apiKey   string
}

// NewUpstream creates the reverse proxy for provider. breaker may be nil.
func NewUpstream(provider providers.Provider, apiKey string, breaker *health.CircuitBreaker, transport http.RoundTripper) (*Upstream, error) {
	target, err := url.Parse(provider.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid provider base URL %q: %w", provider.BaseURL(), err)
	}

	u := &Upstream{
		provider: provider,
		breaker:  breaker,
		target:   target,
		apiKey:   apiKey,
	}
	u.proxy = &httputil.ReverseProxy{
		Rewrite:        u.rewrite,
		Transport:      transport,
		FlushInterval:  -1,
		ModifyResponse: u.modifyResponse,
		ErrorHandler:   u.handleError,
	}
	return u, nil
}

// Provider returns the relayed provider.
func (u *Upstream) Provider() providers.Provider {
	return u.provider
}

// ServeHTTP relays r. onUsage is called once the response body has been
// fully relayed, and only for 2xx responses.
func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request, onUsage UsageFunc) {
	call := &upstreamCall{onUsage: onUsage, started: time.Now()}
	if u.breaker != nil {
		done, err := u.breaker.Allow()
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Str("provider", u.provider.Name()).Msg("upstream circuit open")
			WriteError(w, http.StatusServiceUnavailable, ErrTypeOverloaded, "upstream is unavailable, please retry later")
			return
		}
		call.done = done
	}
	u.proxy.ServeHTTP(w, r.WithContext(withUpstreamCall(r.Context(), call)))
}

func (u *Upstream) rewrite(r *httputil.ProxyRequest) {
	r.SetURL(u.target)
	r.SetXForwarded()

	r.Out.Header.Del("Authorization")
	r.Out.Header.Del("x-api-key")
	if u.apiKey != "" {
		//nolint:errcheck // failures surface as upstream 401s
		u.provider.Authenticate(r.Out, u.apiKey)
	}
	for key, values := range u.provider.ForwardHeaders(r.In.Header) {
		r.Out.Header[key] = values
	}
}

func (u *Upstream) modifyResponse(resp *http.Response) error {
	call := upstreamCallFrom(resp.Request.Context())
	if call == nil {
		return nil
	}

	if call.done != nil {
		var outcome error
		if health.ShouldCountAsFailure(resp.StatusCode, nil) {
			outcome = fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		call.done(outcome)
	}

	ttfb := time.Since(call.started)
	zerolog.Ctx(resp.Request.Context()).Debug().
		Int("status", resp.StatusCode).
		Int64("upstream_ttfb_us", ttfb.Microseconds()).
		Str("upstream_ttfb", formatDuration(ttfb)).
		Msg("upstream responded")

	streaming := isSSE(resp.Header.Get("Content-Type"))
	if streaming {
		SetSSEHeaders(resp.Header)
	}

	if call.onUsage == nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}
	if streaming {
		resp.Body = newSSEUsageTap(resp.Body, call.onUsage)
	} else {
		resp.Body = newJSONUsageTap(resp.Body, call.onUsage)
	}
	return nil
}

func (u *Upstream) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if call := upstreamCallFrom(r.Context()); call != nil && call.done != nil {
		call.done(err)
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("provider", u.provider.Name()).Msg("upstream request failed")
	WriteError(w, http.StatusBadGateway, ErrTypeAPI, "upstream connection failed")
}

func isSSE(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == providers.ContentTypeSSE
}
