package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/pkg/errors"
)

// ContextKeyRequestID is the gin context key under which the request-id
// middleware stores the id for this request.
const ContextKeyRequestID = "request_id"

// RequestID returns the id assigned by the middleware, empty if unset.
func RequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// OpenAI-compatible wire shapes.

// ChatCompletionResponse is the non-streaming completion body.
type ChatCompletionResponse struct {
	ID      string     `json:"id"`
	Object  string     `json:"object"`
	Created int64      `json:"created"`
	Model   string     `json:"model"`
	Choices []Choice   `json:"choices"`
	Usage   chat.Usage `json:"usage"`
}

// Choice is one completion alternative. The gateway always produces
// exactly one.
type Choice struct {
	Index        int          `json:"index"`
	Message      chat.Message `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

// ChatCompletionChunk is one streamed SSE event payload.
type ChatCompletionChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice carries the incremental delta. FinishReason stays null
// until the final chunk.
type StreamChoice struct {
	Index        int          `json:"index"`
	Delta        DeltaContent `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

// DeltaContent is the incremental payload: role on the first chunk,
// content on the rest, neither on the finish chunk.
type DeltaContent struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ErrorBody is the JSON error envelope on every failed request.
type ErrorBody struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id"`
}

// ErrorDetail describes the failure in OpenAI-compatible terms.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// respondError writes the taxonomy-mapped status and error envelope.
func respondError(c *gin.Context, err error) {
	appErr := errors.From(err)
	c.JSON(appErr.HTTPStatus(), ErrorBody{
		Error: ErrorDetail{
			Message: appErr.Message,
			Type:    appErr.Category(),
			Code:    string(appErr.Code),
		},
		RequestID: RequestID(c),
	})
}
