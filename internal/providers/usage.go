package providers

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SSE event names that carry usage.
const (
	EventMessageStart = "message_start"
	EventMessageDelta = "message_delta"
)

// Usage is the token accounting block of a Messages API response.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// Total is the amount charged against a quota: input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

func usageFrom(node gjson.Result) Usage {
	return Usage{
		InputTokens:              node.Get("input_tokens").Int(),
		OutputTokens:             node.Get("output_tokens").Int(),
		CacheCreationInputTokens: node.Get("cache_creation_input_tokens").Int(),
		CacheReadInputTokens:     node.Get("cache_read_input_tokens").Int(),
	}
}

// ParseUsage reads usage from a complete (non-streaming) response body.
func ParseUsage(body []byte) (Usage, bool) {
	node := gjson.GetBytes(body, "usage")
	if !node.IsObject() {
		return Usage{}, false
	}
	return usageFrom(node), true
}

// StreamUsage folds usage out of a streamed response. message_start carries
// the input side; each message_delta carries the cumulative output count.
type StreamUsage struct {
	usage Usage
	seen  bool
}

// Observe feeds one SSE event. Events other than message_start and
// message_delta are ignored.
func (s *StreamUsage) Observe(event string, data []byte) {
	switch event {
	case EventMessageStart:
		node := gjson.GetBytes(data, "message.usage")
		if !node.IsObject() {
			return
		}
		s.usage = usageFrom(node)
		s.seen = true
	case EventMessageDelta:
		node := gjson.GetBytes(data, "usage")
		if !node.IsObject() {
			return
		}
		if out := node.Get("output_tokens"); out.Exists() {
			s.usage.OutputTokens = out.Int()
		}
		if in := node.Get("input_tokens"); in.Exists() && in.Int() > 0 {
			s.usage.InputTokens = in.Int()
		}
		s.seen = true
	}
}

// Usage returns the folded usage and whether any usage event was seen.
func (s *StreamUsage) Usage() (Usage, bool) {
	return s.usage, s.seen
}

// MaxTokens reads the request's max_tokens.
func MaxTokens(body []byte) (int64, bool) {
	v := gjson.GetBytes(body, "max_tokens")
	if v.Type != gjson.Number {
		return 0, false
	}
	return v.Int(), true
}

// IsStreaming reports whether the request body asks for "stream": true.
func IsStreaming(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}

// ClampMaxTokens lowers max_tokens to ceiling when the request asks for more.
// The body is returned unchanged if it has no max_tokens or already fits.
func ClampMaxTokens(body []byte, ceiling int64) ([]byte, bool, error) {
	current, ok := MaxTokens(body)
	if !ok || current <= ceiling {
		return body, false, nil
	}
	out, err := sjson.SetBytes(body, "max_tokens", ceiling)
	if err != nil {
		return nil, false, fmt.Errorf("clamp max_tokens: %w", err)
	}
	return out, true, nil
}
