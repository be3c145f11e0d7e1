package monitoring

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/everettbu/chatsafe/pkg/errors"
)

// === Request lifecycle ===

func TestStartAndCompleteRequest(t *testing.T) {
	m := NewMetrics()

	m.StartRequest("req-1", "llama3.2-3b", true)

	snap := m.Snapshot()
	if snap.TotalRequests != 1 {
		t.Errorf("total_requests: got %d, want 1", snap.TotalRequests)
	}
	if snap.StreamingRequests != 1 {
		t.Errorf("streaming_requests: got %d, want 1", snap.StreamingRequests)
	}
	if snap.ActiveRequests != 1 {
		t.Errorf("active_requests: got %d, want 1", snap.ActiveRequests)
	}
	if snap.ActiveStreams != 1 {
		t.Errorf("active_streams: got %d, want 1", snap.ActiveStreams)
	}
	if !m.IsActive("req-1") {
		t.Error("req-1 should be tracked as active")
	}

	m.CompleteRequest("req-1")

	snap = m.Snapshot()
	if snap.ActiveRequests != 0 {
		t.Errorf("active_requests after complete: got %d, want 0", snap.ActiveRequests)
	}
	if snap.ActiveStreams != 0 {
		t.Errorf("active_streams after complete: got %d, want 0", snap.ActiveStreams)
	}
	if snap.CompletedStreams != 1 {
		t.Errorf("completed_streams: got %d, want 1", snap.CompletedStreams)
	}
	if m.IsActive("req-1") {
		t.Error("req-1 should no longer be active")
	}
}

func TestRequestCountsAddUp(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 2; i++ {
		m.StartRequest(fmt.Sprintf("stream-%d", i), "llama3.2-3b", true)
	}
	for i := 0; i < 3; i++ {
		m.StartRequest(fmt.Sprintf("sync-%d", i), "llama3.2-1b", false)
	}
	m.CompleteRequest("stream-0")
	m.CompleteRequest("sync-0")

	snap := m.Snapshot()
	if snap.TotalRequests != snap.StreamingRequests+snap.NonStreamingRequests {
		t.Errorf("total %d != streaming %d + non_streaming %d",
			snap.TotalRequests, snap.StreamingRequests, snap.NonStreamingRequests)
	}
	if snap.TotalRequests != 5 {
		t.Errorf("total_requests: got %d, want 5", snap.TotalRequests)
	}
	if snap.ActiveRequests != 3 {
		t.Errorf("active_requests: got %d, want 3 (5 started, 2 completed)", snap.ActiveRequests)
	}
	if got := snap.RequestsByModel["llama3.2-3b"]; got != 2 {
		t.Errorf("requests_by_model[llama3.2-3b]: got %d, want 2", got)
	}
	if got := snap.RequestsByModel["llama3.2-1b"]; got != 3 {
		t.Errorf("requests_by_model[llama3.2-1b]: got %d, want 3", got)
	}
}

func TestCompleteRequest_UnknownIDIsNoop(t *testing.T) {
	m := NewMetrics()
	m.CompleteRequest("never-started")

	snap := m.Snapshot()
	if snap.CompletedStreams != 0 {
		t.Errorf("completed_streams: got %d, want 0", snap.CompletedStreams)
	}
	if snap.RequestDurationP50Ms != 0 {
		t.Errorf("request_duration_p50_ms: got %d, want 0", snap.RequestDurationP50Ms)
	}
}

// === Error recording ===

func TestRecordError_Categorizes(t *testing.T) {
	m := NewMetrics()

	m.RecordError("", errors.NewBadRequestError("messages must not be empty"))
	m.RecordError("", errors.NewRateLimitedError("per-IP rate limit exceeded"))

	snap := m.Snapshot()
	if got := snap.ErrorsByCategory[errors.CategoryBadRequest]; got != 1 {
		t.Errorf("errors_by_category[bad_request]: got %d, want 1", got)
	}
	if got := snap.ErrorsByCategory[errors.CategoryRateLimited]; got != 1 {
		t.Errorf("errors_by_category[rate_limited]: got %d, want 1", got)
	}
	if snap.RateLimitHits != 1 {
		t.Errorf("rate_limit_hits: got %d, want 1", snap.RateLimitHits)
	}
}

func TestRecordError_RemovesActiveAndFailsStream(t *testing.T) {
	m := NewMetrics()
	m.StartRequest("req-1", "llama3.2-3b", true)

	m.RecordError("req-1", errors.NewCancelledError("request cancelled"))

	if m.IsActive("req-1") {
		t.Error("req-1 should have been removed from the active set")
	}
	snap := m.Snapshot()
	if snap.ActiveStreams != 0 {
		t.Errorf("active_streams: got %d, want 0", snap.ActiveStreams)
	}
	if snap.FailedStreams != 1 {
		t.Errorf("failed_streams: got %d, want 1", snap.FailedStreams)
	}
	if snap.CancelledRequests != 1 {
		t.Errorf("cancelled_requests: got %d, want 1", snap.CancelledRequests)
	}

	// The cleanup path may still fire CompleteRequest afterwards; it must
	// not double-count the stream.
	m.CompleteRequest("req-1")
	snap = m.Snapshot()
	if snap.CompletedStreams != 0 {
		t.Errorf("completed_streams after late complete: got %d, want 0", snap.CompletedStreams)
	}
}

func TestRecordError_TimeoutCounter(t *testing.T) {
	m := NewMetrics()
	m.RecordError("", errors.NewTimeoutError("generation timed out"))

	snap := m.Snapshot()
	if snap.TimedOutRequests != 1 {
		t.Errorf("timed_out_requests: got %d, want 1", snap.TimedOutRequests)
	}
	if got := snap.ErrorsByCategory[errors.CategoryTimeout]; got != 1 {
		t.Errorf("errors_by_category[timeout]: got %d, want 1", got)
	}
}

func TestRecentErrors_RingIsBounded(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < maxRecentErrors+5; i++ {
		m.RecordError("", errors.NewInternalError(fmt.Sprintf("boom %d", i)))
	}

	recent := m.RecentErrors()
	if len(recent) != maxRecentErrors {
		t.Fatalf("ring length: got %d, want %d", len(recent), maxRecentErrors)
	}
	// Oldest first; the first five entries were evicted.
	if want := "[INTERNAL_ERROR] boom 5"; recent[0].Message != want {
		t.Errorf("oldest message: got %q, want %q", recent[0].Message, want)
	}
	if recent[0].Category != errors.CategoryInternal {
		t.Errorf("category: got %q, want %q", recent[0].Category, errors.CategoryInternal)
	}
}

// === Rate limit tracking ===

func TestRecordRateLimit_PerIP(t *testing.T) {
	m := NewMetrics()

	m.RecordRateLimit("127.0.0.1")
	m.RecordRateLimit("127.0.0.1")
	m.RecordRateLimit("::1")

	snap := m.Snapshot()
	if snap.RateLimitHits != 3 {
		t.Errorf("rate_limit_hits: got %d, want 3", snap.RateLimitHits)
	}
	if got := snap.RateLimitByIP["127.0.0.1"]; got != 2 {
		t.Errorf("rate_limit_by_ip[127.0.0.1]: got %d, want 2", got)
	}
	if got := snap.RateLimitByIP["::1"]; got != 1 {
		t.Errorf("rate_limit_by_ip[::1]: got %d, want 1", got)
	}
}

// === Token and throughput counters ===

func TestTokenAndChunkCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordTokens(100, 40)
	m.RecordTokens(50, 10)
	m.RecordChunk()
	m.RecordChunk()
	m.RecordChunk()
	m.RecordTokensPerSecond(20)
	m.RecordTokensPerSecond(40)

	snap := m.Snapshot()
	if snap.TotalPromptTokens != 150 {
		t.Errorf("total_prompt_tokens: got %d, want 150", snap.TotalPromptTokens)
	}
	if snap.TotalCompletionTokens != 50 {
		t.Errorf("total_completion_tokens: got %d, want 50", snap.TotalCompletionTokens)
	}
	if snap.TotalChunksSent != 3 {
		t.Errorf("total_chunks_sent: got %d, want 3", snap.TotalChunksSent)
	}
	if snap.AverageTokensPerSecond != 30 {
		t.Errorf("average_tokens_per_second: got %v, want 30", snap.AverageTokensPerSecond)
	}
}

func TestFirstTokenLatencyFeedsPercentiles(t *testing.T) {
	m := NewMetrics()

	for _, ms := range []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		m.RecordFirstTokenLatency(time.Duration(ms) * time.Millisecond)
	}

	snap := m.Snapshot()
	if snap.FirstTokenLatencyP50Ms != 50 {
		t.Errorf("p50: got %d, want 50", snap.FirstTokenLatencyP50Ms)
	}
	if snap.FirstTokenLatencyP95Ms != 90 {
		t.Errorf("p95: got %d, want 90", snap.FirstTokenLatencyP95Ms)
	}
	if snap.FirstTokenLatencyP99Ms != 90 {
		t.Errorf("p99: got %d, want 90", snap.FirstTokenLatencyP99Ms)
	}
}

// === Percentile math ===

func TestPercentile(t *testing.T) {
	samples := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	tests := []struct {
		p    float64
		want int64
	}{
		{50, 50},
		{95, 90},
		{99, 90},
		{0, 10},
		{100, 100},
	}
	for _, tt := range tests {
		if got := percentile(samples, tt.p); got != tt.want {
			t.Errorf("percentile(%v): got %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestPercentile_Edges(t *testing.T) {
	if got := percentile(nil, 95); got != 0 {
		t.Errorf("empty window: got %d, want 0", got)
	}
	if got := percentile([]int64{42}, 99); got != 42 {
		t.Errorf("single sample: got %d, want 42", got)
	}
	// Input order must not matter.
	if got := percentile([]int64{30, 10, 20}, 50); got != 20 {
		t.Errorf("unsorted input: got %d, want 20", got)
	}
}

func TestPercentile_DoesNotMutateWindow(t *testing.T) {
	samples := []int64{30, 10, 20}
	percentile(samples, 50)
	if samples[0] != 30 || samples[1] != 10 || samples[2] != 20 {
		t.Errorf("window reordered: %v", samples)
	}
}

// === Window bounds ===

func TestAppendBounded_EvictsOldest(t *testing.T) {
	var window []int64
	for i := 0; i < maxSamples+3; i++ {
		window = appendBounded(window, int64(i))
	}
	if len(window) != maxSamples {
		t.Fatalf("window length: got %d, want %d", len(window), maxSamples)
	}
	if window[0] != 3 {
		t.Errorf("oldest sample: got %d, want 3", window[0])
	}
	if window[len(window)-1] != int64(maxSamples+2) {
		t.Errorf("newest sample: got %d, want %d", window[len(window)-1], maxSamples+2)
	}
}

// === Concurrency ===

func TestConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", n)
			m.StartRequest(id, "llama3.2-3b", n%2 == 0)
			m.RecordChunk()
			m.RecordFirstTokenLatency(5 * time.Millisecond)
			if n%10 == 0 {
				m.RecordError(id, errors.NewInternalError("boom"))
			} else {
				m.CompleteRequest(id)
			}
		}(i)
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.TotalRequests != 50 {
		t.Errorf("total_requests: got %d, want 50", snap.TotalRequests)
	}
	if snap.ActiveRequests != 0 {
		t.Errorf("active_requests: got %d, want 0", snap.ActiveRequests)
	}
	if snap.TotalChunksSent != 50 {
		t.Errorf("total_chunks_sent: got %d, want 50", snap.TotalChunksSent)
	}
	if snap.TotalRequests != snap.StreamingRequests+snap.NonStreamingRequests {
		t.Errorf("total %d != streaming %d + non_streaming %d",
			snap.TotalRequests, snap.StreamingRequests, snap.NonStreamingRequests)
	}
}
