package chat

import (
	"fmt"
	"time"

	"github.com/everettbu/chatsafe/pkg/errors"
)

// Message roles. Unknown roles are normalized to user.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxContentChars bounds the content length of a single message.
const MaxContentChars = 100_000

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NormalizeRole maps unknown role strings to user.
func NormalizeRole(role string) string {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return role
	default:
		return RoleUser
	}
}

// ChatRequest mirrors the OpenAI chat completions request format.
// Optional fields are pointers so absent and zero values stay distinct.
type ChatRequest struct {
	Model         string    `json:"model,omitempty"`
	Messages      []Message `json:"messages"`
	Stream        *bool     `json:"stream,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	MaxTokens     *int      `json:"max_tokens,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	TopK          *int      `json:"top_k,omitempty"`
	RepeatPenalty *float64  `json:"repeat_penalty,omitempty"`
}

// IsStreaming reports whether the client asked for a streaming response.
// Absent means streaming.
func (r *ChatRequest) IsStreaming() bool {
	return r.Stream == nil || *r.Stream
}

// ModelOrDefault returns the requested model id, or "unknown" when absent.
func (r *ChatRequest) ModelOrDefault() string {
	if r.Model == "" {
		return "unknown"
	}
	return r.Model
}

// Validate checks the request against the API contract. It returns a
// bad-request error on the first violation and mutates nothing.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.NewBadRequestError("messages must not be empty")
	}
	for i, m := range r.Messages {
		if m.Content == "" {
			return errors.NewBadRequestError(fmt.Sprintf("messages[%d].content must not be empty", i))
		}
		if len(m.Content) > MaxContentChars {
			return errors.NewBadRequestError(fmt.Sprintf("messages[%d].content exceeds %d characters", i, MaxContentChars))
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0.0 || *r.Temperature > 2.0) {
		return errors.NewBadRequestError("temperature must be between 0.0 and 2.0")
	}
	if r.MaxTokens != nil && (*r.MaxTokens < 1 || *r.MaxTokens > 4096) {
		return errors.NewBadRequestError("max_tokens must be between 1 and 4096")
	}
	if r.TopP != nil && (*r.TopP < 0.0 || *r.TopP > 1.0) {
		return errors.NewBadRequestError("top_p must be between 0.0 and 1.0")
	}
	if r.TopK != nil && *r.TopK < 1 {
		return errors.NewBadRequestError("top_k must be at least 1")
	}
	if r.RepeatPenalty != nil && (*r.RepeatPenalty < 0.1 || *r.RepeatPenalty > 2.0) {
		return errors.NewBadRequestError("repeat_penalty must be between 0.1 and 2.0")
	}
	return nil
}

// NormalizedMessages returns a copy of the messages with roles normalized.
func (r *ChatRequest) NormalizedMessages() []Message {
	out := make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = Message{Role: NormalizeRole(m.Role), Content: m.Content}
	}
	return out
}

// GenerationParams is the fully-resolved parameter set handed to the engine.
type GenerationParams struct {
	RequestID     string
	Temperature   float64
	MaxTokens     int
	TopP          float64
	TopK          int
	RepeatPenalty float64
	StopSequences []string
}

// Baseline generation defaults, used when a model registers no overrides.
const (
	DefaultTemperature   = 0.6
	DefaultMaxTokens     = 256
	DefaultTopP          = 0.9
	DefaultTopK          = 40
	DefaultRepeatPenalty = 1.15
)

// DefaultStopSequences returns the baseline stop sequences.
func DefaultStopSequences() []string {
	return []string{"<|eot_id|>", "<|end_of_text|>", "<|start_header_id|>"}
}

// DefaultGenerationParams returns the baseline parameter set.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:   DefaultTemperature,
		MaxTokens:     DefaultMaxTokens,
		TopP:          DefaultTopP,
		TopK:          DefaultTopK,
		RepeatPenalty: DefaultRepeatPenalty,
		StopSequences: DefaultStopSequences(),
	}
}

// Params materializes GenerationParams by merging request overrides onto the
// model defaults and stamping the request id.
func (r *ChatRequest) Params(requestID string, defaults GenerationParams) GenerationParams {
	p := defaults
	p.RequestID = requestID
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.MaxTokens != nil {
		p.MaxTokens = *r.MaxTokens
	}
	if r.TopP != nil {
		p.TopP = *r.TopP
	}
	if r.TopK != nil {
		p.TopK = *r.TopK
	}
	if r.RepeatPenalty != nil {
		p.RepeatPenalty = *r.RepeatPenalty
	}
	return p
}

// Usage is the token accounting attached to a completed generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EstimateTokens approximates the token count of text at four characters per
// token, with a floor of one for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// ModelHandle identifies the currently-loaded model. Generation requests
// carry it so the adapter can detect a reload race.
type ModelHandle struct {
	ModelID     string
	LoadedAt    time.Time
	ContextSize int
}
