package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/monitoring"
	"github.com/everettbu/chatsafe/internal/infrastructure/persistence"
	"github.com/everettbu/chatsafe/internal/infrastructure/ratelimit"
	"github.com/everettbu/chatsafe/internal/infrastructure/registry"
	"github.com/everettbu/chatsafe/pkg/errors"
)

// Generator is the slice of the engine adapter the orchestrator depends on.
type Generator interface {
	Handle() (chat.ModelHandle, bool)
	Generate(ctx context.Context, handle chat.ModelHandle, messages []chat.Message, params chat.GenerationParams) (<-chan chat.StreamFrame, error)
}

// ChatCompletionUseCase coordinates one completion request across the rate
// limiter, registry, engine and metrics. Transports (SSE, WebSocket) stay
// thin: they hand in a validated-or-not request and render what comes back.
type ChatCompletionUseCase struct {
	generator Generator
	registry  *registry.Registry
	limiter   *ratelimit.Limiter
	metrics   *monitoring.Metrics
	store     *persistence.Store // nil when the usage ledger is disabled
	logger    *zap.Logger
}

// NewChatCompletionUseCase wires the orchestrator. store may be nil.
func NewChatCompletionUseCase(
	gen Generator,
	reg *registry.Registry,
	limiter *ratelimit.Limiter,
	metrics *monitoring.Metrics,
	store *persistence.Store,
	logger *zap.Logger,
) *ChatCompletionUseCase {
	return &ChatCompletionUseCase{
		generator: gen,
		registry:  reg,
		limiter:   limiter,
		metrics:   metrics,
		store:     store,
		logger:    logger.With(zap.String("component", "chat-completion")),
	}
}

// StreamResult hands a live frame stream to a transport. The transport must
// drain Frames and close Cleanup on every exit path.
type StreamResult struct {
	RequestID string
	Model     string
	Frames    <-chan chat.StreamFrame
	Cleanup   *Cleanup
}

// Completion is a fully drained non-streaming result.
type Completion struct {
	RequestID    string
	Model        string
	Content      string
	FinishReason string
	Usage        chat.Usage
}

// Stream admits the request and starts generation, returning the frame
// stream for the transport to render. On error nothing is left held: the
// rate-limit slot is released and the metrics entry completed before return.
func (uc *ChatCompletionUseCase) Stream(ctx context.Context, req *chat.ChatRequest, clientIP, requestID string) (*StreamResult, error) {
	return uc.begin(ctx, req, clientIP, requestID)
}

// Complete runs the request to completion and assembles the full response
// body. The frame stream is drained here; cleanup runs before return.
func (uc *ChatCompletionUseCase) Complete(ctx context.Context, req *chat.ChatRequest, clientIP, requestID string) (*Completion, error) {
	res, err := uc.begin(ctx, req, clientIP, requestID)
	if err != nil {
		return nil, err
	}
	defer res.Cleanup.Close()

	var (
		content      strings.Builder
		finishReason string
		usage        chat.Usage
		failMessage  string
	)
	for frame := range res.Frames {
		switch frame.Kind {
		case chat.FrameDelta:
			content.WriteString(frame.Content)
		case chat.FrameDone:
			finishReason = frame.FinishReason
			usage = frame.Usage
		case chat.FrameError:
			failMessage = frame.ErrMessage
		}
	}

	if failMessage != "" {
		appErr := frameError(failMessage)
		res.Cleanup.Fail(appErr)
		return nil, appErr
	}

	res.Cleanup.Finish(finishReason, usage)
	return &Completion{
		RequestID:    requestID,
		Model:        res.Model,
		Content:      content.String(),
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

// begin runs the admission pipeline: track, rate-limit, validate, resolve the
// model handle, materialize params, start generation.
func (uc *ChatCompletionUseCase) begin(ctx context.Context, req *chat.ChatRequest, clientIP, requestID string) (*StreamResult, error) {
	uc.metrics.StartRequest(requestID, req.ModelOrDefault(), req.IsStreaming())

	if err := uc.limiter.Acquire(clientIP); err != nil {
		uc.metrics.RecordRateLimit(clientIP)
		uc.metrics.RecordError(requestID, err)
		uc.metrics.CompleteRequest(requestID)
		uc.logger.Warn("Request rate limited",
			zap.String("request_id", requestID),
			zap.String("client_ip", clientIP),
		)
		return nil, err
	}

	// The slot is held from here; the guard owns its release.
	guard := newCleanup(uc, req, clientIP, requestID)

	if err := req.Validate(); err != nil {
		guard.Abort(err)
		return nil, err
	}

	handle, ok := uc.generator.Handle()
	if !ok {
		err := errors.NewUnavailableError("model runtime is not ready")
		guard.Abort(err)
		return nil, err
	}
	guard.model = handle.ModelID

	params, err := uc.registry.ApplyOverrides(handle.ModelID, req)
	if err != nil {
		guard.Abort(err)
		return nil, err
	}
	params.RequestID = requestID

	frames, err := uc.generator.Generate(ctx, handle, req.NormalizedMessages(), params)
	if err != nil {
		guard.Abort(err)
		return nil, err
	}

	uc.logger.Debug("Generation started",
		zap.String("request_id", requestID),
		zap.String("model", handle.ModelID),
		zap.Bool("streaming", req.IsStreaming()),
		zap.Int("messages", len(req.Messages)),
	)
	return &StreamResult{
		RequestID: requestID,
		Model:     handle.ModelID,
		Frames:    frames,
		Cleanup:   guard,
	}, nil
}

// frameError maps a terminal error frame's message onto the taxonomy. The
// engine reports its own cancellations in-band, so the message text is the
// only signal available here.
func frameError(message string) *errors.AppError {
	if strings.Contains(strings.ToLower(message), "cancel") {
		return errors.NewCancelledError(message)
	}
	return errors.NewInternalError(message)
}
