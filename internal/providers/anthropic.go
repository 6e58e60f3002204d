package providers

const (
	// DefaultAnthropicBaseURL is the default Anthropic API base URL.
	DefaultAnthropicBaseURL = "https://api.anthropic.com"

	// DefaultAnthropicVersion is sent when the client omits anthropic-version.
	DefaultAnthropicVersion = "2023-06-01"
)

// AnthropicProvider relays to the Anthropic Messages API.
type AnthropicProvider struct {
	BaseProvider
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic provider. An empty baseURL uses
// DefaultAnthropicBaseURL.
func NewAnthropicProvider(name, baseURL string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	return &AnthropicProvider{BaseProvider: NewBaseProvider(name, baseURL)}
}
