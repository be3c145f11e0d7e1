// Package chatsafe is the Go SDK for a local ChatSafe gateway.
// It speaks the gateway's OpenAI-compatible chat completion API and
// streams tokens over SSE.
package chatsafe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the ChatSafe SDK client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request. Zero-valued sampling fields
// are omitted on the wire and fall back to the model's defaults.
type ChatRequest struct {
	Model         string    `json:"model,omitempty"`
	Messages      []Message `json:"messages"`
	Temperature   float64   `json:"temperature,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	TopP          float64   `json:"top_p,omitempty"`
	TopK          int       `json:"top_k,omitempty"`
	RepeatPenalty float64   `json:"repeat_penalty,omitempty"`
}

// wireRequest adds the stream flag the client manages itself.
type wireRequest struct {
	*ChatRequest
	Stream bool `json:"stream"`
}

// Usage is the token accounting of a completed generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is a finished non-streaming chat completion.
type Completion struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
}

// Event types streamed by ChatStream.
const (
	EventStart = "start"
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// Event is one streamed event of a completion. The stream is one start,
// zero or more deltas, then done or error.
type Event struct {
	Type         string
	Content      string
	FinishReason string
	Err          string
}

// IsDelta reports whether the event carries content.
func (e *Event) IsDelta() bool { return e.Type == EventDelta }

// IsDone reports whether the stream completed successfully.
func (e *Event) IsDone() bool { return e.Type == EventDone }

// IsError reports whether the stream failed.
func (e *Event) IsError() bool { return e.Type == EventError }

// Model is one entry of the gateway's model catalog.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextWindow int    `json:"context_window"`
	Default       bool   `json:"default"`
}

// Health is the gateway's health report.
type Health struct {
	Status        string `json:"status"`
	ModelLoaded   bool   `json:"model_loaded"`
	Version       string `json:"version"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// APIError is a non-200 response from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Chat runs a non-streaming completion and returns the finished result.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*Completion, error) {
	resp, err := c.postCompletion(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message      Message `json:"message"`
			FinishReason string  `json:"finish_reason"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(body.Choices) == 0 {
		return nil, fmt.Errorf("completion has no choices")
	}
	return &Completion{
		ID:           body.ID,
		Model:        body.Model,
		Content:      body.Choices[0].Message.Content,
		FinishReason: body.Choices[0].FinishReason,
		Usage:        body.Usage,
	}, nil
}

// ChatStream runs a streaming completion and delivers events via a
// channel. The channel is closed after the terminal event.
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *Event, error) {
	resp, err := c.postCompletion(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Event, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		readSSEStream(resp.Body, ch)
	}()

	return ch, nil
}

// Models returns the gateway's model catalog.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	resp, err := c.get(ctx, "/models")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return result.Models, nil
}

// Health returns the gateway's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &health, nil
}

func (c *Client) postCompletion(ctx context.Context, req *ChatRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(&wireRequest{ChatRequest: req, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

// readSSEStream parses SSE data lines into events until [DONE] or EOF.
func readSSEStream(r io.Reader, ch chan<- *Event) {
	scanner := bufio.NewScanner(r)
	started := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[5:])
		if data == "[DONE]" {
			return
		}

		var failure struct {
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &failure); err == nil && failure.Error != nil {
			ch <- &Event{Type: EventError, Err: failure.Error.Message}
			return
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if !started {
			started = true
			ch <- &Event{Type: EventStart}
		}
		if choice.Delta.Content != "" {
			ch <- &Event{Type: EventDelta, Content: choice.Delta.Content}
		}
		if choice.FinishReason != nil {
			ch <- &Event{Type: EventDone, FinishReason: *choice.FinishReason}
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- &Event{Type: EventError, Err: fmt.Sprintf("stream read: %v", err)}
	}
}

// decodeAPIError turns a non-200 response into an *APIError.
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope struct {
		Error *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(raw)),
	}
}
