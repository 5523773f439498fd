package llm

import (
	"math"

	"chat-relay/internal/types"
)

// DefaultModel is used when no model id is configured.
const DefaultModel = "gpt-4o"

// Sampling bounds.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
)

// SamplingOptions tunes generation. A nil field leaves the provider default.
type SamplingOptions struct {
	MaxTokens   *int64   `yaml:"max_tokens" json:"max_tokens,omitempty"`
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p" json:"top_p,omitempty"`
}

// Validate checks every supplied field against its allowed range.
func (o *SamplingOptions) Validate() error {
	if o == nil {
		return nil
	}
	if o.MaxTokens != nil && *o.MaxTokens <= 0 {
		return types.NewValidationError("max_tokens", *o.MaxTokens, "must be greater than 0")
	}
	if o.Temperature != nil {
		t := *o.Temperature
		if math.IsNaN(t) || t < MinTemperature || t > MaxTemperature {
			return types.NewValidationError("temperature", t, "must be within [0, 2]")
		}
	}
	if o.TopP != nil {
		p := *o.TopP
		if math.IsNaN(p) || p < MinTopP || p > MaxTopP {
			return types.NewValidationError("top_p", p, "must be within [0, 1]")
		}
	}
	return nil
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Request is one user turn, optionally preceded by a system preamble.
type Request struct {
	Prompt   string
	Preamble string
	Sampling *SamplingOptions
}

// Usage holds the token counts reported by the provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Result is a non-streamed completion.
type Result struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
	Model        string `json:"model"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Update is one incremental fragment of a streamed completion.
// Done is set on the update carrying the provider's finish reason.
type Update struct {
	Delta        string `json:"delta"`
	Done         bool   `json:"done,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Outcome is delivered by CompleteAsync.
type Outcome struct {
	Result *Result
	Err    error
}

// StreamEvent is delivered by StreamAsync. Exactly one of Update or Err is
// meaningful; a non-nil Err is always the last event.
type StreamEvent struct {
	Update Update
	Err    error
}
