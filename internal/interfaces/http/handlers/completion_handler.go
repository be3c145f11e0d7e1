package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/application/usecase"
	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/monitoring"
	"github.com/everettbu/chatsafe/pkg/errors"
)

// CompletionHandler serves the OpenAI-compatible chat completions endpoint.
type CompletionHandler struct {
	uc      *usecase.ChatCompletionUseCase
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewCompletionHandler creates the completions handler.
func NewCompletionHandler(uc *usecase.ChatCompletionUseCase, metrics *monitoring.Metrics, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{
		uc:      uc,
		metrics: metrics,
		logger:  logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions. Streaming requests get
// an SSE body; the rest get a single chat.completion object.
func (h *CompletionHandler) ChatCompletions(c *gin.Context) {
	var req chat.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}

	requestID := RequestID(c)
	if req.IsStreaming() {
		res, err := h.uc.Stream(c.Request.Context(), &req, c.ClientIP(), requestID)
		if err != nil {
			respondError(c, err)
			return
		}
		h.streamCompletion(c, res)
		return
	}

	comp, err := h.uc.Complete(c.Request.Context(), &req, c.ClientIP(), requestID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      comp.RequestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   comp.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      chat.Message{Role: chat.RoleAssistant, Content: comp.Content},
			FinishReason: comp.FinishReason,
		}},
		Usage: comp.Usage,
	})
}
