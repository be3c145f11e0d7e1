package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/process"
	"github.com/everettbu/chatsafe/internal/infrastructure/registry"
	"github.com/everettbu/chatsafe/internal/infrastructure/template"
	"github.com/everettbu/chatsafe/pkg/errors"
)

const (
	httpTimeout          = 300 * time.Second
	connectTimeout       = 5 * time.Second
	healthTimeout        = 2 * time.Second
	healthConnectTimeout = 500 * time.Millisecond
	readyMaxAttempts     = 60
	readyInterval        = 500 * time.Millisecond
	loadTimeout          = 30 * time.Second
	shutdownPortWait     = 100 * time.Millisecond

	// llama-server handles scheduling itself; generation length is bounded
	// per request through n_predict in the completion payload.
	parallelSlots    = "4"
	unboundedPredict = "-1"
)

// Config carries the host-level engine tuning fixed at process start.
// Per-model resource entries in the registry override threads and GPU
// layers when they specify a value.
type Config struct {
	Binary    string
	Port      int
	Threads   int
	GPULayers int
}

// Health reports the engine's liveness as seen by the adapter.
type Health struct {
	IsHealthy      bool
	ModelLoaded    *chat.ModelHandle
	ActiveRequests int
	UptimeSeconds  uint64
}

// Adapter drives one llama-server subprocess over its JSON/SSE completion
// endpoint. It is bound to a single model id for its lifetime; loading a
// different model means constructing a new adapter.
type Adapter struct {
	cfg      Config
	modelID  string
	registry *registry.Registry
	logger   *zap.Logger

	supervisor *process.Supervisor
	serverURL  string

	client       *http.Client
	healthClient *http.Client

	mu       sync.RWMutex
	handle   *chat.ModelHandle
	modelCfg registry.ModelConfig
	tpl      template.Config
	active   map[string]chan struct{}

	startedAt time.Time
}

// New creates an adapter bound to modelID. Nothing is spawned until Load.
func New(cfg Config, modelID string, reg *registry.Registry, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:          cfg,
		modelID:      modelID,
		registry:     reg,
		logger:       logger.With(zap.String("component", "engine")),
		supervisor:   process.NewSupervisor("llama-server", cfg.Port, logger),
		serverURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Port),
		client:       newClient(httpTimeout, connectTimeout),
		healthClient: newClient(healthTimeout, healthConnectTimeout),
		active:       make(map[string]chan struct{}),
		startedAt:    time.Now(),
	}
}

func newClient(timeout, connect time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connect}).DialContext,
		},
	}
}

// Load spawns llama-server for the configured model and waits until its
// health endpoint reports ready. Any prior subprocess is cleaned up first,
// and orphans holding the engine port are reclaimed.
func (a *Adapter) Load(ctx context.Context, modelID string) (chat.ModelHandle, error) {
	if modelID != a.modelID {
		return chat.ModelHandle{}, errors.NewModelNotFoundError(
			fmt.Sprintf("engine is configured for model %s, not %s", a.modelID, modelID))
	}

	model, err := a.registry.Model(modelID)
	if err != nil {
		return chat.ModelHandle{}, err
	}
	tpl, err := a.registry.ModelTemplate(modelID)
	if err != nil {
		return chat.ModelHandle{}, err
	}
	modelPath, err := a.registry.ModelPath(modelID)
	if err != nil {
		return chat.ModelHandle{}, err
	}

	a.logger.Info("Loading model",
		zap.String("model", modelID),
		zap.String("path", modelPath),
	)

	if ok, err := a.registry.CheckResources(modelID); err == nil && !ok {
		a.logger.Warn("Model may exceed available memory",
			zap.String("model", modelID),
			zap.Float64("min_ram_gb", model.Resources.MinRAMGB),
		)
	}

	if err := a.supervisor.Cleanup(); err != nil {
		a.logger.Warn("Cleanup before load failed", zap.Error(err))
	}
	a.supervisor.ReclaimPort()

	if !a.supervisor.PortFree() {
		return chat.ModelHandle{}, errors.NewInternalError(fmt.Sprintf(
			"port %d is already in use; another llama-server instance may be running", a.cfg.Port))
	}

	args := buildServerArgs(modelPath, model, a.cfg)
	if err := a.supervisor.Spawn(ctx, a.cfg.Binary, args...); err != nil {
		return chat.ModelHandle{}, errors.NewInternalErrorWithCause("failed to start llama-server", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	if err := a.waitForReady(loadCtx); err != nil {
		a.cleanupAfterFailure()
		return chat.ModelHandle{}, err
	}

	handle := chat.ModelHandle{
		ModelID:     modelID,
		LoadedAt:    time.Now(),
		ContextSize: model.CtxWindow,
	}

	a.mu.Lock()
	a.handle = &handle
	a.modelCfg = model
	a.tpl = tpl
	a.mu.Unlock()

	a.logger.Info("Model loaded", zap.String("model", modelID))
	return handle, nil
}

// buildServerArgs assembles the llama-server command line. Model resource
// entries win over the host defaults when they specify a value.
func buildServerArgs(modelPath string, model registry.ModelConfig, cfg Config) []string {
	threads := model.Resources.Threads
	if threads <= 0 {
		threads = cfg.Threads
	}
	gpuLayers := model.Resources.GPULayers
	if gpuLayers == 0 {
		gpuLayers = cfg.GPULayers
	}

	return []string{
		"--model", modelPath,
		"--ctx-size", strconv.Itoa(model.CtxWindow),
		"--n-gpu-layers", strconv.Itoa(gpuLayers),
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(cfg.Port),
		"--threads", strconv.Itoa(threads),
		"--n-predict", unboundedPredict,
		"--parallel", parallelSlots,
		"--cont-batching",
		"--flash-attn", "on",
	}
}

// waitForReady polls the engine health endpoint until it answers, failing
// fast if the subprocess dies during startup.
func (a *Adapter) waitForReady(ctx context.Context) error {
	for attempt := 1; attempt <= readyMaxAttempts; attempt++ {
		if !a.supervisor.IsRunning() {
			return errors.NewInternalError("llama-server process died unexpectedly")
		}
		if a.Health(ctx).IsHealthy {
			a.logger.Info("Engine ready", zap.Int("attempts", attempt))
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.NewTimeoutError("timeout waiting for model to load")
		case <-time.After(readyInterval):
		}
	}
	return errors.NewUnavailableError(fmt.Sprintf(
		"engine failed to become ready after %d attempts", readyMaxAttempts))
}

func (a *Adapter) cleanupAfterFailure() {
	if err := a.supervisor.Cleanup(); err != nil {
		a.logger.Warn("Cleanup after failed load", zap.Error(err))
	}
}

// Handle returns the currently loaded model handle, if any.
func (a *Adapter) Handle() (chat.ModelHandle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.handle == nil {
		return chat.ModelHandle{}, false
	}
	return *a.handle, true
}

// Cancel signals the named request's generation to stop. Unknown ids are
// logged and ignored, so repeated cancellation is harmless.
func (a *Adapter) Cancel(requestID string) {
	a.mu.Lock()
	ch, ok := a.active[requestID]
	if ok {
		delete(a.active, requestID)
	}
	a.mu.Unlock()

	if ok {
		close(ch)
		a.logger.Info("Cancelled request", zap.String("request_id", requestID))
	} else {
		a.logger.Warn("No active request found for cancellation", zap.String("request_id", requestID))
	}
}

func (a *Adapter) unregister(requestID string) {
	a.mu.Lock()
	delete(a.active, requestID)
	a.mu.Unlock()
}

// Health probes the engine's health endpoint with short timeouts.
func (a *Adapter) Health(ctx context.Context) Health {
	healthy := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.serverURL+"/health", nil)
	if err == nil {
		if resp, doErr := a.healthClient.Do(req); doErr == nil {
			healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
			resp.Body.Close()
		}
	}

	a.mu.RLock()
	var loaded *chat.ModelHandle
	if a.handle != nil {
		h := *a.handle
		loaded = &h
	}
	activeCount := len(a.active)
	a.mu.RUnlock()

	return Health{
		IsHealthy:      healthy,
		ModelLoaded:    loaded,
		ActiveRequests: activeCount,
		UptimeSeconds:  uint64(time.Since(a.startedAt).Seconds()),
	}
}

// Shutdown terminates the subprocess and verifies the port is released.
func (a *Adapter) Shutdown() error {
	if err := a.supervisor.Terminate(); err != nil {
		return err
	}

	a.mu.Lock()
	a.handle = nil
	a.mu.Unlock()

	time.Sleep(shutdownPortWait)
	if !a.supervisor.PortFree() {
		a.logger.Warn("Port still in use after shutdown", zap.Int("port", a.cfg.Port))
	}
	return nil
}
