package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/application/usecase"
	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/monitoring"
	"github.com/everettbu/chatsafe/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
	sendBufferSize = 64
	// frameTimeout matches the SSE producer's per-frame deadline.
	frameTimeout = 30 * time.Second
)

// session is one upgraded connection. The read pump parses requests and
// serves them one at a time; the write pump owns all writes to the
// socket, including keepalive pings.
type session struct {
	conn     *websocket.Conn
	send     chan []byte
	closed   chan struct{}
	uc       *usecase.ChatCompletionUseCase
	metrics  *monitoring.Metrics
	clientIP string
	logger   *zap.Logger
}

func (s *session) readPump(ctx context.Context, newID func() string) {
	defer func() {
		close(s.send)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var req chat.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.sendError("", errors.NewBadRequestError("invalid request body: "+err.Error()))
			continue
		}

		s.serveRequest(ctx, &req, newID())

		// Generation blocks this loop, so pongs are not consumed while a
		// request is in flight. Push the deadline out before the next read.
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.closed)
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveRequest runs one chat request through the pipeline and forwards
// its frames. The cleanup guard is released on every exit path.
func (s *session) serveRequest(ctx context.Context, req *chat.ChatRequest, requestID string) {
	res, err := s.uc.Stream(ctx, req, s.clientIP, requestID)
	if err != nil {
		s.sendError(requestID, err)
		return
	}
	defer res.Cleanup.Close()

	started := time.Now()
	firstToken := false

	timer := time.NewTimer(frameTimeout)
	defer timer.Stop()

	for {
		select {
		case frame, ok := <-res.Frames:
			if !ok {
				return
			}
			if !s.forwardFrame(res, frame, started, &firstToken) {
				return
			}
		case <-s.closed:
			res.Cleanup.Fail(errors.NewCancelledError("client disconnected"))
			return
		case <-timer.C:
			res.Cleanup.Fail(errors.NewTimeoutError("timed out waiting for the next frame"))
			s.deliver(FrameMessage{Type: "error", RequestID: requestID, Error: "timed out waiting for the next frame"})
			s.logger.Warn("Stream frame timeout", zap.String("request_id", requestID))
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(frameTimeout)
	}
}

// forwardFrame translates one frame to its wire message. It reports
// whether the stream should continue.
func (s *session) forwardFrame(res *usecase.StreamResult, frame chat.StreamFrame, started time.Time, firstToken *bool) bool {
	switch frame.Kind {
	case chat.FrameStart:
		if !s.deliver(FrameMessage{
			Type:      "start",
			RequestID: res.RequestID,
			Model:     res.Model,
			Role:      frame.Role,
		}) {
			res.Cleanup.Fail(errors.NewCancelledError("client disconnected"))
			return false
		}
		return true

	case chat.FrameDelta:
		if !*firstToken {
			*firstToken = true
			s.metrics.RecordFirstTokenLatency(time.Since(started))
		}
		s.metrics.RecordChunk()
		if !s.deliver(FrameMessage{Type: "delta", RequestID: res.RequestID, Content: frame.Content}) {
			res.Cleanup.Fail(errors.NewCancelledError("client disconnected"))
			return false
		}
		return true

	case chat.FrameDone:
		res.Cleanup.Finish(frame.FinishReason, frame.Usage)
		usage := frame.Usage
		s.deliver(FrameMessage{
			Type:         "done",
			RequestID:    res.RequestID,
			FinishReason: frame.FinishReason,
			Usage:        &usage,
		})
		return false

	case chat.FrameError:
		res.Cleanup.FailMessage(frame.ErrMessage)
		s.deliver(FrameMessage{Type: "error", RequestID: res.RequestID, Error: frame.ErrMessage})
		return false

	default:
		return true
	}
}

func (s *session) sendError(requestID string, err error) {
	appErr := errors.From(err)
	s.deliver(FrameMessage{Type: "error", RequestID: requestID, Error: appErr.Message})
}

// deliver queues one message for the write pump, abandoning it if the
// pump has exited.
func (s *session) deliver(msg FrameMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal frame message", zap.Error(err))
		return false
	}
	select {
	case s.send <- data:
		return true
	case <-s.closed:
		return false
	}
}
