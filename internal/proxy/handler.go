package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/providers"
	"github.com/omarluq/cc-gateway/internal/quota"
	"github.com/omarluq/cc-gateway/internal/storage"
)

// MessagesHandler admits /v1/messages requests against the caller's token
// quota, relays them upstream and charges the reported usage.
type MessagesHandler struct {
	checker  quota.Checker
	upstream *Upstream
	runtime  config.RuntimeConfig
}

// NewMessagesHandler creates the handler. runtime supplies the live quota
// section so default limits and reservation flags follow hot reloads.
func NewMessagesHandler(checker quota.Checker, upstream *Upstream, runtime config.RuntimeConfig) *MessagesHandler {
	return &MessagesHandler{checker: checker, upstream: upstream, runtime: runtime}
}

// QuotaFor returns the quota governing rec: the key's own limit, else the
// configured default.
func QuotaFor(rec storage.KeyRecord, cfg *config.QuotaConfig) quota.Config {
	q := rec.QuotaConfig()
	if q.Limit <= 0 {
		q.Limit = cfg.DefaultLimit
	}
	if q.WindowDuration <= 0 {
		q.WindowDuration = cfg.GetWindow()
	}
	return q
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	rec, ok := KeyRecordFrom(ctx)
	if !ok {
		WriteError(w, http.StatusUnauthorized, ErrTypeAuthentication, "missing api key")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if IsBodyTooLargeError(err) {
			WriteBodyTooLargeError(w)
			return
		}
		WriteError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "failed to read request body")
		return
	}

	qcfg := h.runtime.Get().Quota
	limits := QuotaFor(rec, &qcfg)

	requested := int64(1)
	if qcfg.ReserveMaxTokens {
		if maxTokens, ok := providers.MaxTokens(body); ok && maxTokens > 0 {
			requested = maxTokens
		}
	}

	start := time.Now()
	res, err := h.checker.Check(ctx, rec.ID, limits, requested)
	if timings := getRequestTimings(ctx); timings != nil {
		timings.Quota = time.Since(start)
	}
	if err != nil {
		logger.Error().Err(err).Msg("quota check failed")
		WriteError(w, http.StatusServiceUnavailable, ErrTypeAPI, "quota check unavailable")
		return
	}
	if !res.Allowed {
		WriteQuotaExceeded(w, res)
		return
	}
	SetQuotaHeaders(w.Header(), res)

	if qcfg.ClampMaxTokens {
		clamped, changed, err := providers.ClampMaxTokens(body, max(res.Remaining(), 1))
		if err != nil {
			logger.Warn().Err(err).Msg("max_tokens clamp skipped")
		} else if changed {
			logger.Debug().Int64("max_tokens", res.Remaining()).Msg("clamped max_tokens to remaining quota")
			body = clamped
		}
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))

	h.upstream.ServeHTTP(w, r, h.recordUsage(ctx, rec.ID))
}

// recordUsage charges a relayed response's tokens to keyID. The request
// context may already be canceled by then, so recording runs detached.
func (h *MessagesHandler) recordUsage(ctx context.Context, keyID string) UsageFunc {
	logger := zerolog.Ctx(ctx)
	detached := context.WithoutCancel(ctx)
	return func(usage providers.Usage, ok bool) {
		if !ok {
			logger.Warn().Msg("upstream response carried no usage")
			return
		}
		total := usage.Total()
		if err := h.checker.RecordUsage(detached, keyID, total); err != nil {
			logger.Error().Err(err).Int64("tokens", total).Msg("failed to record usage")
			return
		}
		logger.Debug().
			Int64("input_tokens", usage.InputTokens).
			Int64("output_tokens", usage.OutputTokens).
			Msg("usage recorded")
	}
}

// QuotaHandler serves GET /v1/quota: the caller's current standing, computed
// as a check for zero tokens.
type QuotaHandler struct {
	checker quota.Checker
	runtime config.RuntimeConfig
}

// NewQuotaHandler creates the handler.
func NewQuotaHandler(checker quota.Checker, runtime config.RuntimeConfig) *QuotaHandler {
	return &QuotaHandler{checker: checker, runtime: runtime}
}

func (h *QuotaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec, ok := KeyRecordFrom(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, ErrTypeAuthentication, "missing api key")
		return
	}
	qcfg := h.runtime.Get().Quota
	res, err := h.checker.Check(r.Context(), rec.ID, QuotaFor(rec, &qcfg), 0)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("quota check failed")
		WriteError(w, http.StatusServiceUnavailable, ErrTypeAPI, "quota check unavailable")
		return
	}
	SetQuotaHeaders(w.Header(), res)
	writeJSON(w, http.StatusOK, struct {
		KeyID string `json:"key_id"`
		quota.Result
		Remaining int64 `json:"tokens_remaining"`
	}{KeyID: rec.ID, Result: res, Remaining: res.Remaining()})
}
