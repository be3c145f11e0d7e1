package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/application/usecase"
	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/engine"
	"github.com/everettbu/chatsafe/internal/infrastructure/monitoring"
	"github.com/everettbu/chatsafe/internal/infrastructure/ratelimit"
	"github.com/everettbu/chatsafe/internal/infrastructure/registry"
	"github.com/everettbu/chatsafe/internal/interfaces/websocket"
)

const testModelID = "llama-3.2-3b-instruct-q4_k_m"

type stubEngine struct {
	healthy bool
	handle  *chat.ModelHandle
}

func (s *stubEngine) Health(ctx context.Context) engine.Health {
	return engine.Health{IsHealthy: s.healthy, ModelLoaded: s.handle}
}

type stubGenerator struct{}

func (g *stubGenerator) Handle() (chat.ModelHandle, bool) {
	return chat.ModelHandle{ModelID: testModelID, LoadedAt: time.Now(), ContextSize: 8192}, true
}

func (g *stubGenerator) Generate(ctx context.Context, handle chat.ModelHandle, messages []chat.Message, params chat.GenerationParams) (<-chan chat.StreamFrame, error) {
	out := make(chan chat.StreamFrame, 3)
	out <- chat.StartFrame(params.RequestID, handle.ModelID)
	out <- chat.DeltaFrame("pong")
	out <- chat.DoneFrame(chat.FinishStop, chat.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})
	close(out)
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	reg, err := registry.Load(filepath.Join(dir, "registry.json"), filepath.Join(dir, "models"), zap.NewNop())
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}
	limiter := ratelimit.New(ratelimit.DefaultConfig(), zap.NewNop())
	metrics := monitoring.NewMetrics()
	collector := monitoring.NewCollector(metrics, zap.NewNop())
	uc := usecase.NewChatCompletionUseCase(&stubGenerator{}, reg, limiter, metrics, nil, zap.NewNop())
	ws := websocket.NewHandler(uc, metrics, zap.NewNop())
	eng := &stubEngine{healthy: true, handle: &chat.ModelHandle{ModelID: testModelID}}

	cfg := Config{Host: "127.0.0.1", Port: 0, MaxConnections: 10, Mode: "release", Version: "0.1.0"}
	return NewServer(cfg, uc, eng, reg, metrics, collector, nil, ws, zap.NewNop())
}

func serve(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	return w
}

func TestNewServer_RoutesWired(t *testing.T) {
	s := newTestServer(t)

	paths := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/health", ""},
		{http.MethodGet, "/healthz", ""},
		{http.MethodGet, "/version", ""},
		{http.MethodGet, "/metrics", ""},
		{http.MethodGet, "/metrics/history", ""},
		{http.MethodGet, "/metrics/prometheus", ""},
		{http.MethodGet, "/models", ""},
		{http.MethodGet, "/v1/models", ""},
		{http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"ping"}]}`},
	}

	for _, p := range paths {
		w := serve(t, s, p.method, p.path, p.body, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s %s = %d, want 200; body %s", p.method, p.path, w.Code, w.Body.String())
		}
		if w.Header().Get("x-request-id") == "" {
			t.Errorf("%s %s missing x-request-id header", p.method, p.path)
		}
	}
}

func TestNewServer_UsageUnavailableWithoutStore(t *testing.T) {
	s := newTestServer(t)

	w := serve(t, s, http.MethodGet, "/v1/usage", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /v1/usage = %d, want 503 with persistence disabled", w.Code)
	}
}

func TestRequestID_EchoesInboundHeader(t *testing.T) {
	s := newTestServer(t)

	w := serve(t, s, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"ping"}]}`,
		map[string]string{"x-request-id": "client-supplied-id"})

	if got := w.Header().Get("x-request-id"); got != "client-supplied-id" {
		t.Errorf("x-request-id = %q, want the inbound id echoed", got)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal completion: %v", err)
	}
	if resp.ID != "client-supplied-id" {
		t.Errorf("completion id = %q, want the inbound id", resp.ID)
	}
}

func TestStartStop_BindsLoopbackEphemeralPort(t *testing.T) {
	s := newTestServer(t)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
