package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/everettbu/chatsafe/internal/domain/chat"
)

// sseHandler serves the given payloads as SSE data events and checks
// that the client asked for a stream.
func sseHandler(t *testing.T, payloads []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req chat.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream == nil || !*req.Stream {
			t.Error("client did not force stream=true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
	}
}

func collectFrames(t *testing.T, frames <-chan chat.StreamFrame) []chat.StreamFrame {
	t.Helper()
	var out []chat.StreamFrame
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-deadline:
			t.Fatal("timed out waiting for frames")
		}
	}
}

func TestStream_ParsesChunkStream(t *testing.T) {
	payloads := []string{
		`{"id":"req-1","object":"chat.completion.chunk","model":"m1","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
		`{"id":"req-1","object":"chat.completion.chunk","model":"m1","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}`,
		`{"id":"req-1","object":"chat.completion.chunk","model":"m1","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":null}]}`,
		`{"id":"req-1","object":"chat.completion.chunk","model":"m1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	}
	srv := httptest.NewServer(sseHandler(t, payloads))
	defer srv.Close()

	client := NewClient(srv.URL)
	frames, err := client.Stream(context.Background(), &chat.ChatRequest{
		Model:    "m1",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	got := collectFrames(t, frames)
	if len(got) != 4 {
		t.Fatalf("expected 4 frames, got %d: %+v", len(got), got)
	}
	if got[0].Kind != chat.FrameStart || got[0].RequestID != "req-1" || got[0].Model != "m1" {
		t.Errorf("unexpected start frame: %+v", got[0])
	}
	if got[0].Role != chat.RoleAssistant {
		t.Errorf("start role = %q, want assistant", got[0].Role)
	}
	if got[1].Content != "Hello" || got[2].Content != " there" {
		t.Errorf("unexpected deltas: %+v", got[1:3])
	}
	if got[3].Kind != chat.FrameDone || got[3].FinishReason != chat.FinishStop {
		t.Errorf("unexpected terminal frame: %+v", got[3])
	}
}

func TestStream_ForwardsInBandError(t *testing.T) {
	payloads := []string{
		`{"id":"req-2","object":"chat.completion.chunk","model":"m1","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
		`{"id":"req-2","object":"chat.completion.chunk","model":"m1","choices":[{"index":0,"delta":{"content":"par"},"finish_reason":null}]}`,
		`{"error":{"message":"engine connection reset","type":"runtime_error"}}`,
	}
	srv := httptest.NewServer(sseHandler(t, payloads))
	defer srv.Close()

	client := NewClient(srv.URL)
	frames, err := client.Stream(context.Background(), &chat.ChatRequest{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	got := collectFrames(t, frames)
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d: %+v", len(got), got)
	}
	last := got[2]
	if last.Kind != chat.FrameError || last.ErrMessage != "engine connection reset" {
		t.Errorf("unexpected terminal frame: %+v", last)
	}
}

func TestStream_DecodesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limit exceeded","type":"rate_limited","code":"RATE_LIMITED"},"request_id":"req-3"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Stream(context.Background(), &chat.ChatRequest{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("error should carry status and message, got: %v", err)
	}
}

func TestModels_ParsesCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models":[
			{"id":"llama-3.2-3b-instruct-q4_k_m","name":"Llama 3.2 3B","context_window":8192,"default":true},
			{"id":"llama-3.2-1b-instruct-q4_k_m","name":"Llama 3.2 1B","context_window":8192,"default":false}
		]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	models, err := client.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].ID != "llama-3.2-3b-instruct-q4_k_m" || !models[0].Default {
		t.Errorf("unexpected first model: %+v", models[0])
	}
	if models[1].ContextWindow != 8192 {
		t.Errorf("context_window = %d, want 8192", models[1].ContextWindow)
	}
}

func TestHealth_ParsesReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"status":"healthy","model_loaded":true,"version":"0.1.0","uptime_seconds":90}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "healthy" || !health.ModelLoaded || health.UptimeSeconds != 90 {
		t.Errorf("unexpected health report: %+v", health)
	}
}
