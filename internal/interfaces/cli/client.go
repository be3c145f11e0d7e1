package cli

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

	"github.com/everettbu/chatsafe/internal/domain/chat"
)

// Client talks to a running chatsafe gateway over HTTP/SSE.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a gateway client for the given base URL.
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

// ModelSummary is one entry of the gateway's model catalog.
type ModelSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextWindow int    `json:"context_window"`
	Default       bool   `json:"default"`
}

// GatewayHealth is the gateway's health report.
type GatewayHealth struct {
	Status        string `json:"status"`
	ModelLoaded   bool   `json:"model_loaded"`
	Version       string `json:"version"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// completionChunk mirrors the streamed chat.completion.chunk payload.
type completionChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// errorEnvelope mirrors both the HTTP error body and the in-band SSE
// error event, which share the same inner shape.
type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Stream sends a chat completion request and streams the response as
// frames. The channel closes after the terminal frame. Usage is not
// populated on the Done frame; the streamed chunks carry none.
func (c *Client) Stream(ctx context.Context, req *chat.ChatRequest) (<-chan chat.StreamFrame, error) {
	r := *req
	streaming := true
	r.Stream = &streaming

	body, err := json.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	frames := make(chan chat.StreamFrame, 32)
	go func() {
		defer close(frames)
		defer resp.Body.Close()
		c.readStream(ctx, resp.Body, frames)
	}()

	return frames, nil
}

// readStream parses SSE data lines into frames until [DONE] or EOF.
func (c *Client) readStream(ctx context.Context, r io.Reader, frames chan<- chat.StreamFrame) {
	scanner := bufio.NewScanner(r)
	started := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(line[5:])
		if payload == "[DONE]" {
			return
		}

		var envelope errorEnvelope
		if err := json.Unmarshal([]byte(payload), &envelope); err == nil && envelope.Error != nil {
			frames <- chat.ErrorFrame(envelope.Error.Message)
			return
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if !started {
			frames <- chat.StartFrame(chunk.ID, chunk.Model)
			started = true
		}
		if choice.Delta.Content != "" {
			frames <- chat.DeltaFrame(choice.Delta.Content)
		}
		if choice.FinishReason != nil {
			frames <- chat.DoneFrame(*choice.FinishReason, chat.Usage{})
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		frames <- chat.ErrorFrame(fmt.Sprintf("stream read: %v", err))
	}
}

// Models returns the gateway's model catalog.
func (c *Client) Models(ctx context.Context) ([]ModelSummary, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result struct {
		Models []ModelSummary `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return result.Models, nil
}

// Health returns the gateway's health report.
func (c *Client) Health(ctx context.Context) (*GatewayHealth, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var health GatewayHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &health, nil
}

// decodeError turns a non-200 response into an error, preferring the
// gateway's error envelope over the raw body.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		return fmt.Errorf("gateway error %d: %s", resp.StatusCode, envelope.Error.Message)
	}
	return fmt.Errorf("gateway error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
