package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/domain/chat"
	"github.com/everettbu/chatsafe/internal/infrastructure/registry"
	"github.com/everettbu/chatsafe/internal/infrastructure/template"
	"github.com/everettbu/chatsafe/pkg/errors"
	"github.com/everettbu/chatsafe/pkg/safego"
)

// streamBuffer bounds how far the producer may run ahead of a slow
// consumer before blocking.
const streamBuffer = 32

// refusalProbe guards against refusing twice when the engine echoes the
// refusal line back into its own output.
const refusalProbe = "I understand you'd like me to respond"

// completionRequest is llama-server's native /completion payload.
type completionRequest struct {
	Prompt        string   `json:"prompt"`
	NPredict      int      `json:"n_predict"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop"`
	Stream        bool     `json:"stream"`
}

// streamChunk is one SSE data frame from llama-server.
type streamChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Generate streams one completion as a Start frame, zero or more Delta
// frames, and exactly one terminal Done or Error frame. The channel is
// closed after the terminal frame; the caller must drain it even when
// abandoning the request, with Cancel to cut generation short.
func (a *Adapter) Generate(ctx context.Context, handle chat.ModelHandle, messages []chat.Message, params chat.GenerationParams) (<-chan chat.StreamFrame, error) {
	a.mu.RLock()
	current := a.handle
	model := a.modelCfg
	tpl := a.tpl
	a.mu.RUnlock()

	if current == nil {
		return nil, errors.NewUnavailableError("no model is loaded")
	}
	if handle.ModelID != current.ModelID || !handle.LoadedAt.Equal(current.LoadedAt) {
		return nil, errors.NewModelNotFoundError("model handle does not match loaded model")
	}

	prompt := template.FormatPrompt(messages, tpl)
	creq := completionRequest{
		Prompt:        prompt,
		NPredict:      params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		RepeatPenalty: params.RepeatPenalty,
		Stop:          params.StopSequences,
		Stream:        true,
	}

	cancelCh := make(chan struct{})
	a.mu.Lock()
	a.active[params.RequestID] = cancelCh
	a.mu.Unlock()

	frames := make(chan chat.StreamFrame, streamBuffer)
	safego.Go(a.logger, "engine-generate", func() {
		defer close(frames)
		defer a.unregister(params.RequestID)

		frames <- chat.StartFrame(params.RequestID, current.ModelID)
		a.streamCompletion(ctx, creq, model, tpl, cancelCh, frames)
	})

	return frames, nil
}

func (a *Adapter) streamCompletion(ctx context.Context, creq completionRequest, model registry.ModelConfig, tpl template.Config, cancelCh chan struct{}, frames chan<- chat.StreamFrame) {
	payload, err := json.Marshal(creq)
	if err != nil {
		frames <- chat.ErrorFrame("failed to encode engine request: " + err.Error())
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		frames <- chat.ErrorFrame("failed to build engine request: " + err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	type doResult struct {
		resp *http.Response
		err  error
	}
	doCh := make(chan doResult, 1)
	safego.Go(a.logger, "engine-request", func() {
		resp, doErr := a.client.Do(req)
		doCh <- doResult{resp: resp, err: doErr}
	})

	var resp *http.Response
	select {
	case <-cancelCh:
		frames <- chat.ErrorFrame("Request cancelled")
		safego.Go(a.logger, "engine-request-drain", func() {
			if r := <-doCh; r.resp != nil {
				r.resp.Body.Close()
			}
		})
		return
	case r := <-doCh:
		if r.err != nil {
			frames <- chat.ErrorFrame("engine request failed: " + r.err.Error())
			return
		}
		resp = r.resp
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		frames <- chat.ErrorFrame("Server error: " + resp.Status)
		return
	}

	// Context cancellation does not interrupt a blocked Body.Read;
	// closing the body is what unblocks the scanner below.
	watchDone := make(chan struct{})
	defer close(watchDone)
	safego.Go(a.logger, "engine-stream-watch", func() {
		select {
		case <-cancelCh:
			resp.Body.Close()
		case <-ctx.Done():
			resp.Body.Close()
		case <-watchDone:
		}
	})

	a.consumeSSE(creq.Prompt, resp.Body, model, tpl, cancelCh, frames)
}

func (a *Adapter) consumeSSE(prompt string, body io.Reader, model registry.ModelConfig, tpl template.Config, cancelCh <-chan struct{}, frames chan<- chat.StreamFrame) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var accumulated strings.Builder
	completionTokens := 0
	malformed := 0
	finished := false

	for scanner.Scan() {
		select {
		case <-cancelCh:
			frames <- chat.ErrorFrame("Request cancelled")
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			malformed++
			a.logger.Warn("Dropped malformed engine frame", zap.Error(err))
			continue
		}

		if chunk.Content != "" {
			accumulated.WriteString(chunk.Content)
			completionTokens++

			if text := accumulated.String(); template.HasDialogueLeak(text) && !strings.Contains(text, refusalProbe) {
				a.logger.Warn("Dialogue leak in engine output; response replaced with refusal")
				frames <- chat.DeltaFrame(template.RefusalLine)
				finished = true
				break
			}

			// A leaked EOS token or stop sequence means generation is
			// semantically over even if the engine keeps sending text.
			if cut := stopBoundary(chunk.Content, model); cut >= 0 {
				if cleaned := template.StripMarkers(chunk.Content[:cut]); strings.TrimSpace(cleaned) != "" {
					frames <- chat.DeltaFrame(cleaned)
				}
				finished = true
				break
			}

			if cleaned := template.StripMarkers(chunk.Content); strings.TrimSpace(cleaned) != "" {
				frames <- chat.DeltaFrame(cleaned)
			}
		}

		if chunk.Stop {
			result := template.CleanResponse(accumulated.String(), tpl, model.StopSequences, model.EOSToken)
			if result.StoppedAt != "" {
				frames <- chat.DeltaFrame("\n")
			}
			finished = true
			break
		}
	}

	if malformed > 0 {
		a.logger.Warn("Dropped malformed engine frames during streaming", zap.Int("count", malformed))
	}

	if !finished {
		if err := scanner.Err(); err != nil {
			select {
			case <-cancelCh:
				frames <- chat.ErrorFrame("Request cancelled")
			default:
				frames <- chat.ErrorFrame("stream read failed: " + err.Error())
			}
			return
		}
	}

	frames <- chat.DoneFrame(chat.FinishStop, streamUsage(prompt, completionTokens))
}

// stopBoundary returns the index of the earliest EOS-token or stop-sequence
// occurrence in piece, or -1. The set mirrors CleanResponse's truncation set.
func stopBoundary(piece string, model registry.ModelConfig) int {
	cut := -1
	check := func(seq string) {
		if seq == "" {
			return
		}
		if pos := strings.Index(piece, seq); pos >= 0 && (cut < 0 || pos < cut) {
			cut = pos
		}
	}
	for _, seq := range model.StopSequences {
		check(seq)
	}
	check(model.EOSToken)
	return cut
}

func streamUsage(prompt string, completionTokens int) chat.Usage {
	promptTokens := chat.EstimateTokens(prompt)
	return chat.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
