package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/cc-gateway/internal/health"
	"github.com/omarluq/cc-gateway/internal/quota"
	"github.com/omarluq/cc-gateway/internal/storage"
)

// AdminHandler serves the /admin quota and key endpoints.
type AdminHandler struct {
	checker quota.Checker
	keys    storage.KeyStore
	onKey   func(ctx context.Context, rec storage.KeyRecord)
}

// NewAdminHandler creates the handler. onKeyChange, if set, runs after a key
// is disabled or enabled so cached records can be dropped.
func NewAdminHandler(checker quota.Checker, keys storage.KeyStore, onKeyChange func(context.Context, storage.KeyRecord)) *AdminHandler {
	return &AdminHandler{checker: checker, keys: keys, onKey: onKeyChange}
}

// Register mounts the admin routes on mux behind mw.
func (a *AdminHandler) Register(mux *http.ServeMux, mw ...Middleware) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, Chain(fn, mw...))
	}
	route("GET /admin/quota/metrics", a.metrics)
	route("POST /admin/quota/metrics/reset", a.resetMetrics)
	route("POST /admin/quota/flush", a.flush)
	route("GET /admin/quota/dead-letters", a.deadLetters)
	route("GET /admin/keys", a.listKeys)
	route("POST /admin/keys/{id}/disable", a.setEnabled(false))
	route("POST /admin/keys/{id}/enable", a.setEnabled(true))
}

type metricsResponse struct {
	quota.MetricsSnapshot
	CacheHitRate float64 `json:"cache_hit_rate"`
}

func (a *AdminHandler) metrics(w http.ResponseWriter, _ *http.Request) {
	snap := a.checker.Metrics()
	writeJSON(w, http.StatusOK, metricsResponse{MetricsSnapshot: snap, CacheHitRate: snap.CacheHitRate()})
}

func (a *AdminHandler) resetMetrics(w http.ResponseWriter, r *http.Request) {
	a.checker.ResetMetrics()
	zerolog.Ctx(r.Context()).Info().Msg("quota metrics reset")
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminHandler) flush(w http.ResponseWriter, r *http.Request) {
	report := a.checker.Flush(r.Context())
	zerolog.Ctx(r.Context()).Info().
		Int("flushed", report.Flushed).
		Int("failed", report.Failed).
		Int("dead_lettered", report.DeadLettered).
		Msg("manual quota flush")
	writeJSON(w, http.StatusOK, report)
}

func (a *AdminHandler) deadLetters(w http.ResponseWriter, _ *http.Request) {
	letters := a.checker.DeadLetters()
	if letters == nil {
		letters = []quota.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters, "count": len(letters)})
}

func (a *AdminHandler) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.keys.ListKeys(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("list keys failed")
		WriteError(w, http.StatusInternalServerError, ErrTypeAPI, "failed to list keys")
		return
	}
	if keys == nil {
		keys = []storage.KeyRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (a *AdminHandler) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		ctx := r.Context()
		err := a.keys.SetKeyEnabled(ctx, id, enabled)
		if errors.Is(err, storage.ErrKeyNotFound) {
			WriteError(w, http.StatusNotFound, "not_found_error", "key not found")
			return
		}
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("key_id", id).Msg("update key failed")
			WriteError(w, http.StatusInternalServerError, ErrTypeAPI, "failed to update key")
			return
		}
		rec, err := a.keys.GetKey(ctx, id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, ErrTypeAPI, "failed to read key")
			return
		}
		if a.onKey != nil {
			a.onKey(ctx, rec)
		}
		zerolog.Ctx(ctx).Info().Str("key_id", id).Bool("enabled", enabled).Msg("key updated")
		writeJSON(w, http.StatusOK, rec)
	}
}

// HealthHandler serves GET /health from the last background report, running
// a fresh check when none exists yet.
func HealthHandler(checker *health.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": health.StatusOK})
			return
		}
		report, ok := checker.Last()
		if !ok || time.Since(report.CheckedAt) > time.Minute {
			report = checker.Check(r.Context())
		}
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}
