package chatsafe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func collectEvents(t *testing.T, ch <-chan *Event) []*Event {
	t.Helper()
	var out []*Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestChat_ReturnsCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire map[string]any
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if stream, ok := wire["stream"].(bool); !ok || stream {
			t.Errorf("Chat should send stream=false, got %v", wire["stream"])
		}
		fmt.Fprint(w, `{
			"id":"req-1","object":"chat.completion","model":"m1",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hello there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}
		}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	got, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.Content != "Hello there" || got.FinishReason != "stop" {
		t.Errorf("unexpected completion: %+v", got)
	}
	if got.Usage.TotalTokens != 8 {
		t.Errorf("total_tokens = %d, want 8", got.Usage.TotalTokens)
	}
}

func TestChatStream_DeliversEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire map[string]any
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if stream, ok := wire["stream"].(bool); !ok || !stream {
			t.Errorf("ChatStream should send stream=true, got %v", wire["stream"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		payloads := []string{
			`{"id":"req-2","model":"m1","choices":[{"delta":{"role":"assistant"},"finish_reason":null}]}`,
			`{"id":"req-2","model":"m1","choices":[{"delta":{"content":"Hello"},"finish_reason":null}]}`,
			`{"id":"req-2","model":"m1","choices":[{"delta":{"content":" world"},"finish_reason":null}]}`,
			`{"id":"req-2","model":"m1","choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		}
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	ch, err := client.ChatStream(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	events := collectEvents(t, ch)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	if events[0].Type != EventStart {
		t.Errorf("first event = %+v, want start", events[0])
	}
	text := ""
	for _, e := range events {
		if e.IsDelta() {
			text += e.Content
		}
	}
	if text != "Hello world" {
		t.Errorf("assembled content = %q", text)
	}
	last := events[len(events)-1]
	if !last.IsDone() || last.FinishReason != "stop" {
		t.Errorf("terminal event = %+v, want done/stop", last)
	}
}

func TestChatStream_ForwardsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"engine connection reset\",\"type\":\"runtime_error\"}}\n\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	ch, err := client.ChatStream(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	events := collectEvents(t, ch)
	if len(events) != 1 || !events[0].IsError() {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if events[0].Err != "engine connection reset" {
		t.Errorf("error message = %q", events[0].Err)
	}
}

func TestChat_RejectionIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limit exceeded","type":"rate_limited","code":"RATE_LIMITED"},"request_id":"req-3"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Code != "RATE_LIMITED" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestModels_And_Health(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"id":"llama-3.2-3b-instruct-q4_k_m","name":"Llama 3.2 3B","context_window":8192,"default":true}]}`)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"healthy","model_loaded":true,"version":"0.1.0","uptime_seconds":30}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, WithTimeout(5*time.Second))

	models, err := client.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 1 || !models[0].Default {
		t.Errorf("unexpected catalog: %+v", models)
	}

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "healthy" || !health.ModelLoaded {
		t.Errorf("unexpected health: %+v", health)
	}
}
