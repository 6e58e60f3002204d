package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/cc-gateway/internal/auth"
	"github.com/omarluq/cc-gateway/internal/providers"
	"github.com/omarluq/cc-gateway/internal/ratelimit"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first listed runs outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func recordAuthTiming(ctx context.Context, start time.Time) {
	if timings := getRequestTimings(ctx); timings != nil {
		timings.Auth = time.Since(start)
	}
}

// KeyAuthMiddleware authenticates a gateway key and stores its record in the
// request context for the handlers behind it.
func KeyAuthMiddleware(authenticator auth.Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			result := authenticator.Validate(r)
			recordAuthTiming(r.Context(), start)

			if !result.Valid {
				zerolog.Ctx(r.Context()).Warn().
					Str("auth_type", string(result.Type)).
					Str("error", result.Error).
					Msg("authentication failed")
				WriteError(w, http.StatusUnauthorized, ErrTypeAuthentication, result.Error)
				return
			}

			logger := zerolog.Ctx(r.Context()).With().
				Str("key_id", result.Key.ID).
				Str("key_prefix", result.Key.Prefix).
				Logger()
			ctx := logger.WithContext(WithKeyRecord(r.Context(), result.Key))
			logger.Debug().Str("auth_type", string(result.Type)).Msg("authentication succeeded")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuthMiddleware guards admin routes with the static admin token.
func AdminAuthMiddleware(authenticator auth.Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if result := authenticator.Validate(r); !result.Valid {
				zerolog.Ctx(r.Context()).Warn().Str("error", result.Error).Msg("admin authentication failed")
				WriteError(w, http.StatusUnauthorized, ErrTypeAuthentication, result.Error)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware enforces the per-key request rate. It must run after
// KeyAuthMiddleware; requests without a key record pass through.
func RateLimitMiddleware(limiter *ratelimit.KeyedLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, ok := KeyRecordFrom(r.Context())
			if !ok || !limiter.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			allowed := limiter.Allow(rec.ID)
			usage := limiter.Usage(rec.ID)
			w.Header().Set(HeaderRateLimitRequests, strconv.Itoa(usage.RequestsLimit))
			w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(usage.RequestsRemaining))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			retry := limiter.RetryAfter(rec.ID)
			zerolog.Ctx(r.Context()).Warn().
				Err(ratelimit.ErrRateLimitExceeded).
				Dur("retry_after", retry).
				Msg("request rejected")
			WriteRateLimitError(w, retry)
		})
	}
}

// RequestIDMiddleware attaches base to the request context, tags it with the
// request ID and echoes the ID in X-Request-ID.
func RequestIDMiddleware(base zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			ctx := AddRequestID(base.WithContext(r.Context()), requestID)
			w.Header().Set(HeaderRequestID, GetRequestID(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs request start and completion with status, duration
// and the auth and quota stage timings.
func LoggingMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, timings := withRequestTimings(r.Context())
			r = r.WithContext(ctx)

			shortID := GetRequestID(ctx)
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}
			fields := zerolog.Ctx(ctx).With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", shortID)
			started := fields.Logger()
			started.Info().Msgf("%s %s", r.Method, r.URL.Path)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			elapsed := formatDuration(time.Since(start))
			fields = fields.Int("status", wrapped.statusCode).Str("duration", elapsed)
			fields = timings.appendTo(fields)
			if wrapped.isStreaming && wrapped.sseEvents > 0 {
				fields = fields.Int("sse_events", wrapped.sseEvents)
			}

			logger := fields.Logger()
			msg := statusSymbol(wrapped.statusCode) + " " + http.StatusText(wrapped.statusCode) + " (" + elapsed + ")"
			switch {
			case wrapped.statusCode >= 500:
				logger.Error().Msg(msg)
			case wrapped.statusCode >= 400:
				logger.Warn().Msg(msg)
			default:
				logger.Info().Msg(msg)
			}
		})
	}
}

func statusSymbol(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "✗"
	case statusCode >= 400:
		return "⚠"
	default:
		return "✓"
	}
}

// formatDuration formats duration in a human-readable form with microsecond precision.
func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "0s"
	}
	duration = duration.Round(time.Microsecond)
	switch {
	case duration < time.Millisecond:
		return fmt.Sprintf("%dµs", duration.Microseconds())
	case duration < time.Second:
		return fmt.Sprintf("%.2fms", float64(duration)/float64(time.Millisecond))
	case duration < time.Minute:
		return fmt.Sprintf("%.2fs", duration.Seconds())
	default:
		return duration.Truncate(time.Second).String()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and SSE events.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	sseEvents   int
	isStreaming bool
	wroteHeader bool
}

var eventPrefix = []byte("event:")

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		rw.statusCode = code
		rw.isStreaming = rw.Header().Get("Content-Type") == providers.ContentTypeSSE
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if rw.isStreaming {
		rw.sseEvents += bytes.Count(data, eventPrefix)
	}
	return rw.ResponseWriter.Write(data)
}

// Flush forwards to the underlying writer so SSE responses stream through.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// ConcurrencyLimiter enforces a global maximum number of concurrent requests.
// The limit can be changed at runtime; zero or negative means unlimited.
type ConcurrencyLimiter struct {
	limit   atomic.Int64
	current atomic.Int64
}

// NewConcurrencyLimiter creates a new concurrency limiter with the given max limit.
func NewConcurrencyLimiter(maxLimit int64) *ConcurrencyLimiter {
	limiter := &ConcurrencyLimiter{}
	limiter.limit.Store(maxLimit)
	return limiter
}

// SetLimit updates the concurrency limit.
func (l *ConcurrencyLimiter) SetLimit(maxLimit int64) {
	l.limit.Store(maxLimit)
}

// GetLimit returns the current configured limit.
func (l *ConcurrencyLimiter) GetLimit() int64 {
	return l.limit.Load()
}

// CurrentInFlight returns the current number of in-flight requests.
func (l *ConcurrencyLimiter) CurrentInFlight() int64 {
	return l.current.Load()
}

// TryAcquire takes a slot if one is free.
func (l *ConcurrencyLimiter) TryAcquire() bool {
	limit := l.limit.Load()
	if limit <= 0 {
		l.current.Add(1)
		return true
	}
	for {
		current := l.current.Load()
		if current >= limit {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release releases a slot after request completion.
func (l *ConcurrencyLimiter) Release() {
	l.current.Add(-1)
}

// ConcurrencyMiddleware rejects requests with 503 while the limiter is full.
func ConcurrencyMiddleware(limiter *ConcurrencyLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.TryAcquire() {
				zerolog.Ctx(r.Context()).Warn().
					Int64("limit", limiter.GetLimit()).
					Int64("current", limiter.CurrentInFlight()).
					Msg("request rejected: concurrency limit reached")
				WriteError(w, http.StatusServiceUnavailable, ErrTypeOverloaded,
					"server is at maximum capacity, please retry later")
				return
			}
			defer limiter.Release()
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodyBytesMiddleware limits request body size. limitProvider is read per
// request so reloaded limits apply immediately.
func MaxBodyBytesMiddleware(limitProvider func() int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit := limitProvider(); limit > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
