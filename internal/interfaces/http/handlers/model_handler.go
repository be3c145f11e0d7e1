package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/infrastructure/registry"
)

// ModelHandler serves the registry catalog in two shapes: the native list
// and the OpenAI-compatible one.
type ModelHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func NewModelHandler(reg *registry.Registry, logger *zap.Logger) *ModelHandler {
	return &ModelHandler{registry: reg, logger: logger}
}

// ModelInfo is the native catalog entry.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextWindow int    `json:"context_window"`
	Default       bool   `json:"default"`
}

// OpenAIModel mirrors OpenAI's model object.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse mirrors OpenAI's models list response.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// List serves the native catalog.
// GET /models
func (h *ModelHandler) List(c *gin.Context) {
	configs := h.registry.ModelConfigs()
	models := make([]ModelInfo, 0, len(configs))
	for _, m := range configs {
		models = append(models, ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			ContextWindow: m.CtxWindow,
			Default:       m.Default,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// ListOpenAI serves the catalog in OpenAI's list shape.
// GET /v1/models
func (h *ModelHandler) ListOpenAI(c *gin.Context) {
	created := time.Now().Unix()
	configs := h.registry.ModelConfigs()
	data := make([]OpenAIModel, 0, len(configs))
	for _, m := range configs {
		data = append(data, OpenAIModel{
			ID:      m.ID,
			Object:  "model",
			Created: created,
			OwnedBy: "chatsafe",
		})
	}
	c.JSON(http.StatusOK, ModelsResponse{Object: "list", Data: data})
}
