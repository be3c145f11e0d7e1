package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/infrastructure/engine"
)

// healthTimeout caps the engine probe so a wedged subprocess cannot hang
// liveness checks.
const healthTimeout = 2 * time.Second

// EngineHealth is the slice of the engine adapter the health endpoint needs.
type EngineHealth interface {
	Health(ctx context.Context) engine.Health
}

// HealthHandler answers liveness probes and static version metadata.
type HealthHandler struct {
	engine  EngineHealth
	version string
	started time.Time
	logger  *zap.Logger
}

func NewHealthHandler(eng EngineHealth, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		engine:  eng,
		version: version,
		started: time.Now(),
		logger:  logger,
	}
}

// HealthResponse is the body served on /health and /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	ModelLoaded   bool   `json:"model_loaded"`
	Version       string `json:"version"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// Health reports gateway health.
// GET /health
// GET /healthz
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	eh := h.engine.Health(ctx)

	status := "healthy"
	switch {
	case !eh.IsHealthy:
		status = "unhealthy"
	case eh.ModelLoaded == nil:
		status = "degraded"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:        status,
		ModelLoaded:   eh.ModelLoaded != nil,
		Version:       h.version,
		UptimeSeconds: uint64(time.Since(h.started).Seconds()),
	})
}

// Version reports static build metadata.
// GET /version
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":   h.version,
		"api":       "ChatSafe Local API",
		"model_api": "OpenAI Compatible",
	})
}
