// Package providers describes the Anthropic-compatible upstream the gateway
// relays to: how requests are authenticated, which headers pass through, and
// how token usage is read back out of Messages API responses.
package providers

import "net/http"

// Content types seen on Messages API responses.
const (
	ContentTypeJSON = "application/json"
	ContentTypeSSE  = "text/event-stream"
)

// Provider is an upstream backend.
type Provider interface {
	// Name returns the provider identifier used in logs and health reports.
	Name() string

	// BaseURL returns the backend API base URL.
	BaseURL() string

	// Authenticate sets the backend credential on an outbound request.
	Authenticate(req *http.Request, key string) error

	// ForwardHeaders returns the subset of client headers sent upstream.
	ForwardHeaders(originalHeaders http.Header) http.Header
}
