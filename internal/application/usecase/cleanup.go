package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/persistence"
	"github.com/everettbu/chatsafe/pkg/errors"
)

// Cleanup releases a request's resources exactly once, whatever exit path
// the transport takes: normal completion, in-band error, timeout, client
// disconnect, or panic unwinding through a defer. Construction pairs with
// the limiter slot acquired in begin; Close is the single release point.
type Cleanup struct {
	uc  *ChatCompletionUseCase
	req *chat.ChatRequest

	clientIP  string
	requestID string
	model     string
	started   time.Time

	mu           sync.Mutex
	finishReason string
	errCategory  string
	usage        chat.Usage

	once sync.Once
}

func newCleanup(uc *ChatCompletionUseCase, req *chat.ChatRequest, clientIP, requestID string) *Cleanup {
	return &Cleanup{
		uc:        uc,
		req:       req,
		clientIP:  clientIP,
		requestID: requestID,
		model:     req.ModelOrDefault(),
		started:   time.Now(),
	}
}

// Finish records the terminal outcome of a successful stream. It does not
// release anything; call Close for that.
func (c *Cleanup) Finish(finishReason string, usage chat.Usage) {
	c.mu.Lock()
	c.finishReason = finishReason
	c.usage = usage
	c.mu.Unlock()
}

// Fail records a terminal error outcome and counts it in metrics.
func (c *Cleanup) Fail(err error) {
	c.uc.metrics.RecordError(c.requestID, err)
	c.mu.Lock()
	c.errCategory = errors.From(err).Category()
	c.mu.Unlock()
}

// FailMessage records a raw engine error message, classifying
// cancellations separately from runtime failures.
func (c *Cleanup) FailMessage(message string) {
	c.Fail(frameError(message))
}

// Abort is Fail plus Close, for admission failures that never reach a
// transport.
func (c *Cleanup) Abort(err error) {
	c.Fail(err)
	c.Close()
}

// Close releases the rate-limit slot, completes metrics tracking, records
// token throughput, and appends the usage ledger row. Safe to call any
// number of times; only the first call acts.
func (c *Cleanup) Close() {
	c.once.Do(func() {
		c.uc.limiter.Release(c.clientIP)
		c.uc.metrics.CompleteRequest(c.requestID)

		c.mu.Lock()
		finishReason := c.finishReason
		errCategory := c.errCategory
		usage := c.usage
		c.mu.Unlock()

		elapsed := time.Since(c.started)
		if usage.CompletionTokens > 0 {
			c.uc.metrics.RecordTokens(usage.PromptTokens, usage.CompletionTokens)
			if secs := elapsed.Seconds(); secs > 0 {
				c.uc.metrics.RecordTokensPerSecond(float64(usage.CompletionTokens) / secs)
			}
		}

		if c.uc.store != nil {
			c.uc.store.Record(persistence.UsageRecord{
				RequestID:        c.requestID,
				Model:            c.model,
				ClientIP:         c.clientIP,
				Streaming:        c.req.IsStreaming(),
				FinishReason:     finishReason,
				ErrorCategory:    errCategory,
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				DurationMs:       elapsed.Milliseconds(),
			})
		}

		c.uc.logger.Debug("Request closed",
			zap.String("request_id", c.requestID),
			zap.String("finish_reason", finishReason),
			zap.String("error_category", errCategory),
			zap.Duration("duration", elapsed),
		)
	})
}
