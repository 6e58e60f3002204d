// Package proxy is the HTTP front of cc-gateway: it authenticates clients by
// gateway key, admits each request against the key's token quota, relays it
// to the upstream Messages API and charges the tokens the response reports.
package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omarluq/cc-gateway/internal/quota"
)

// Headers describing a key's quota and request-rate state on /v1/messages
// responses.
const (
	HeaderQuotaLimit     = "X-Quota-Limit"
	HeaderQuotaUsed      = "X-Quota-Used"
	HeaderQuotaRemaining = "X-Quota-Remaining"
	HeaderQuotaReset     = "X-Quota-Reset" // RFC 3339 end of the governing window
	HeaderQuotaReason    = "X-Quota-Reason"

	HeaderRateLimitRequests  = "X-RateLimit-Limit-Requests"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining-Requests"
)

// Error types used in the Anthropic error envelope.
const (
	ErrTypeAuthentication = "authentication_error"
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeRateLimit      = "rate_limit_error"
	ErrTypeAPI            = "api_error"
	ErrTypeOverloaded     = "overloaded_error"
	ErrTypeTooLarge       = "request_too_large"
)

// IsBodyTooLargeError checks if an error is from http.MaxBytesReader.
func IsBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// WriteBodyTooLargeError writes a 413 Request Entity Too Large response.
func WriteBodyTooLargeError(w http.ResponseWriter) {
	WriteError(w, http.StatusRequestEntityTooLarge, ErrTypeTooLarge,
		"Request body exceeds the maximum allowed size")
}

// ErrorResponse matches Anthropic's error response format exactly.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error type and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response in Anthropic API format.
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errorType, Message: message},
	})
}

// setRetryAfter writes a whole-second Retry-After header, never below 1.
func setRetryAfter(h http.Header, seconds int64) {
	h.Set("Retry-After", strconv.FormatInt(max(seconds, 1), 10))
}

// WriteRateLimitError writes a 429 for a key that exceeded its request rate.
func WriteRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int64(retryAfter.Seconds())
	if retryAfter > time.Duration(seconds)*time.Second {
		seconds++
	}
	setRetryAfter(w.Header(), seconds)

	WriteError(w, http.StatusTooManyRequests, ErrTypeRateLimit,
		"request rate limit exceeded for this key, retry after the specified time")
}

// SetQuotaHeaders describes res on h.
func SetQuotaHeaders(h http.Header, res quota.Result) {
	h.Set(HeaderQuotaLimit, strconv.FormatInt(res.TokensLimit, 10))
	h.Set(HeaderQuotaUsed, strconv.FormatInt(res.TokensUsed, 10))
	h.Set(HeaderQuotaRemaining, strconv.FormatInt(res.Remaining(), 10))
	if !res.WindowEnd.IsZero() {
		h.Set(HeaderQuotaReset, res.WindowEnd.UTC().Format(time.RFC3339))
	}
}

// WriteQuotaExceeded writes the 429 sent when a key's token quota denies a
// request.
func WriteQuotaExceeded(w http.ResponseWriter, res quota.Result) {
	h := w.Header()
	SetQuotaHeaders(h, res)
	h.Set(HeaderQuotaReason, res.Reason)
	setRetryAfter(h, res.RetryAfterSeconds)

	log.Warn().
		Int64("tokens_used", res.TokensUsed).
		Int64("tokens_limit", res.TokensLimit).
		Int64("retry_after_seconds", res.RetryAfterSeconds).
		Msg("returning 429 quota exceeded")

	WriteError(w, http.StatusTooManyRequests, ErrTypeRateLimit, res.Reason)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
