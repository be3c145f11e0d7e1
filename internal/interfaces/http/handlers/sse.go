package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/application/usecase"
	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/pkg/errors"
	"github.com/everettbu/chatsafe/pkg/safego"
)

const (
	// streamBufferSize bounds per-connection memory: a slow client
	// backpressures the producer instead of growing a queue.
	streamBufferSize = 32
	// frameTimeout is how long the producer waits for the next upstream
	// frame before closing the stream.
	frameTimeout = 30 * time.Second

	chunkObject      = "chat.completion.chunk"
	doneMarker       = "[DONE]"
	errorTypeRuntime = "runtime_error"
)

// sseErrorEvent is the in-band error payload for streams that fail after
// the 200 response has been committed.
type sseErrorEvent struct {
	Error sseErrorDetail `json:"error"`
}

type sseErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// streamCompletion renders a live frame stream as OpenAI-compatible SSE.
// A producer goroutine serializes frames into a bounded channel; this
// writer loop drains it into the response with a flush per event.
func (h *CompletionHandler) streamCompletion(c *gin.Context, res *usecase.StreamResult) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events := make(chan string, streamBufferSize)
	clientGone := c.Request.Context().Done()
	safego.Go(h.logger, "sse-producer", func() {
		h.produceEvents(res, events, clientGone)
	})

	flusher, canFlush := c.Writer.(http.Flusher)
	for ev := range events {
		if _, err := io.WriteString(c.Writer, "data: "+ev+"\n\n"); err != nil {
			// Client went away; the producer exits through clientGone.
			break
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// produceEvents converts frames into pre-serialized SSE payloads. It owns
// the cleanup guard: every exit path, including timeout and disconnect,
// releases the rate-limit slot and completes metrics tracking.
func (h *CompletionHandler) produceEvents(res *usecase.StreamResult, events chan<- string, clientGone <-chan struct{}) {
	defer close(events)
	defer res.Cleanup.Close()

	created := time.Now().Unix()
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
			if !h.emitFrame(res, frame, created, started, &firstToken, events, clientGone) {
				return
			}
		case <-clientGone:
			res.Cleanup.Fail(errors.NewCancelledError("client disconnected"))
			return
		case <-timer.C:
			res.Cleanup.Fail(errors.NewTimeoutError("timed out waiting for the next frame"))
			h.logger.Warn("Stream frame timeout", zap.String("request_id", res.RequestID))
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

// emitFrame translates one frame into its SSE events. It reports whether
// the stream should continue.
func (h *CompletionHandler) emitFrame(res *usecase.StreamResult, frame chat.StreamFrame, created int64, started time.Time, firstToken *bool, events chan<- string, clientGone <-chan struct{}) bool {
	switch frame.Kind {
	case chat.FrameStart:
		return h.sendChunk(events, clientGone,
			newChunk(res.RequestID, res.Model, created, DeltaContent{Role: frame.Role}, nil))

	case chat.FrameDelta:
		if !*firstToken {
			*firstToken = true
			h.metrics.RecordFirstTokenLatency(time.Since(started))
		}
		h.metrics.RecordChunk()
		return h.sendChunk(events, clientGone,
			newChunk(res.RequestID, res.Model, created, DeltaContent{Content: frame.Content}, nil))

	case chat.FrameDone:
		res.Cleanup.Finish(frame.FinishReason, frame.Usage)
		reason := frame.FinishReason
		if h.sendChunk(events, clientGone,
			newChunk(res.RequestID, res.Model, created, DeltaContent{}, &reason)) {
			h.send(events, clientGone, doneMarker)
		}
		return false

	case chat.FrameError:
		res.Cleanup.FailMessage(frame.ErrMessage)
		data, err := json.Marshal(sseErrorEvent{Error: sseErrorDetail{
			Message: frame.ErrMessage,
			Type:    errorTypeRuntime,
		}})
		if err == nil {
			h.send(events, clientGone, string(data))
		}
		return false

	default:
		return true
	}
}

func newChunk(requestID, model string, created int64, delta DeltaContent, finishReason *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      requestID,
		Object:  chunkObject,
		Created: created,
		Model:   model,
		Choices: []StreamChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
}

func (h *CompletionHandler) sendChunk(events chan<- string, clientGone <-chan struct{}, chunk ChatCompletionChunk) bool {
	data, err := json.Marshal(chunk)
	if err != nil {
		h.logger.Error("Failed to marshal SSE chunk", zap.Error(err))
		return false
	}
	return h.send(events, clientGone, string(data))
}

// send delivers one pre-serialized payload, abandoning it if the client
// disconnects while the channel is full.
func (h *CompletionHandler) send(events chan<- string, clientGone <-chan struct{}, payload string) bool {
	select {
	case events <- payload:
		return true
	case <-clientGone:
		return false
	}
}
