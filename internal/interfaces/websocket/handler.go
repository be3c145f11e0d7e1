package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/application/usecase"
	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway binds loopback only.
		return true
	},
}

// FrameMessage is the wire shape of one stream frame. Type is one of
// start, delta, done, error.
type FrameMessage struct {
	Type         string      `json:"type"`
	RequestID    string      `json:"request_id,omitempty"`
	Model        string      `json:"model,omitempty"`
	Role         string      `json:"role,omitempty"`
	Content      string      `json:"content,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *chat.Usage `json:"usage,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Handler upgrades /v1/chat/ws connections and bridges each inbound chat
// request onto the frame pipeline. Requests on one connection are served
// one at a time; the connection stays open between them.
type Handler struct {
	uc      *usecase.ChatCompletionUseCase
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

func NewHandler(uc *usecase.ChatCompletionUseCase, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		uc:      uc,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "websocket")),
	}
}

// Handle upgrades the connection and runs the session until the client
// goes away.
func (h *Handler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	s := &session{
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		closed:   make(chan struct{}),
		uc:       h.uc,
		metrics:  h.metrics,
		clientIP: c.ClientIP(),
		logger:   h.logger.With(zap.String("remote", conn.RemoteAddr().String())),
	}

	go s.writePump()
	s.readPump(c.Request.Context(), uuid.NewString)
}
