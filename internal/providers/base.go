package providers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// BaseProvider implements the parts of Provider shared by Anthropic-style
// backends.
type BaseProvider struct {
	name    string
	baseURL string
}

// NewBaseProvider creates a base provider.
func NewBaseProvider(name, baseURL string) BaseProvider {
	return BaseProvider{name: name, baseURL: baseURL}
}

// Name returns the provider identifier.
func (p *BaseProvider) Name() string {
	return p.name
}

// BaseURL returns the backend API base URL.
func (p *BaseProvider) BaseURL() string {
	return p.baseURL
}

// Authenticate replaces whatever credential the client sent with the
// gateway's own upstream key.
func (p *BaseProvider) Authenticate(req *http.Request, key string) error {
	req.Header.Del("Authorization")
	req.Header.Set("x-api-key", key)

	log.Ctx(req.Context()).Debug().
		Str("provider", p.name).
		Msg("added authentication header")
	return nil
}

// ForwardHeaders keeps anthropic-* headers (version, beta flags) and forces a
// JSON content type.
func (p *BaseProvider) ForwardHeaders(originalHeaders http.Header) http.Header {
	headers := make(http.Header)
	lo.ForEach(lo.Entries(originalHeaders), func(entry lo.Entry[string, []string], _ int) {
		canonicalKey := http.CanonicalHeaderKey(entry.Key)
		if strings.HasPrefix(canonicalKey, "Anthropic-") {
			headers[canonicalKey] = append(headers[canonicalKey], entry.Value...)
		}
	})
	headers.Set("Content-Type", ContentTypeJSON)
	return headers
}
