package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/everettbu/chatsafe/pkg/errors"
)

const (
	// maxSamples bounds each sliding window so long-running servers
	// keep a stable memory footprint.
	maxSamples = 10000

	// maxRecentErrors bounds the debugging ring of recent error messages.
	maxRecentErrors = 100
)

// activeRequest tracks one in-flight request between StartRequest and
// CompleteRequest or RecordError.
type activeRequest struct {
	requestID string
	startedAt time.Time
	model     string
	streaming bool
}

type errorEntry struct {
	at       time.Time
	category string
	message  string
}

// RecentError is one entry from the error ring, with the age computed
// at read time.
type RecentError struct {
	AgeSeconds uint64 `json:"age_seconds"`
	Category   string `json:"category"`
	Message    string `json:"message"`
}

// Metrics is the in-process metrics record for the gateway. All counters
// are cumulative since process start; latency and throughput series are
// bounded sliding windows. Every method is safe for concurrent use.
type Metrics struct {
	mu        sync.RWMutex
	startedAt time.Time

	totalRequests        uint64
	streamingRequests    uint64
	nonStreamingRequests uint64
	active               map[string]activeRequest

	firstTokenLatencies []int64
	requestDurations    []int64
	tokensPerSecond     []float64

	totalPromptTokens     uint64
	totalCompletionTokens uint64
	totalChunksSent       uint64

	errorsByCategory map[string]uint64
	recentErrors     []errorEntry
	cancelled        uint64
	timedOut         uint64

	rateLimitHits uint64
	rateLimitByIP map[string]uint64

	requestsByModel map[string]uint64

	activeStreams    uint64
	completedStreams uint64
	failedStreams    uint64
}

// NewMetrics creates an empty metrics record.
func NewMetrics() *Metrics {
	return &Metrics{
		startedAt:        time.Now(),
		active:           make(map[string]activeRequest),
		errorsByCategory: make(map[string]uint64),
		rateLimitByIP:    make(map[string]uint64),
		requestsByModel:  make(map[string]uint64),
	}
}

// StartRequest registers an in-flight request under its id.
func (m *Metrics) StartRequest(requestID, model string, streaming bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	if streaming {
		m.streamingRequests++
		m.activeStreams++
	} else {
		m.nonStreamingRequests++
	}
	m.requestsByModel[model]++

	m.active[requestID] = activeRequest{
		requestID: requestID,
		startedAt: time.Now(),
		model:     model,
		streaming: streaming,
	}
}

// CompleteRequest removes the request from the active set and records its
// total duration. Unknown ids are ignored, so calling it after RecordError
// already removed the entry is harmless.
func (m *Metrics) CompleteRequest(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.active[requestID]
	if !ok {
		return
	}
	delete(m.active, requestID)

	m.requestDurations = appendBounded(m.requestDurations, time.Since(req.startedAt).Milliseconds())

	if req.streaming {
		if m.activeStreams > 0 {
			m.activeStreams--
		}
		m.completedStreams++
	}
}

// RecordError counts err under its category and appends it to the recent
// error ring. When requestID names an active request, that request is
// removed from the active set and its stream counted as failed. Pass an
// empty requestID for errors rejected before request tracking started.
func (m *Metrics) RecordError(requestID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appErr := errors.From(err)
	category := appErr.Category()
	m.errorsByCategory[category]++

	m.recentErrors = append(m.recentErrors, errorEntry{
		at:       time.Now(),
		category: category,
		message:  appErr.Error(),
	})
	if len(m.recentErrors) > maxRecentErrors {
		m.recentErrors = m.recentErrors[1:]
	}

	switch category {
	case errors.CategoryCancelled:
		m.cancelled++
	case errors.CategoryTimeout:
		m.timedOut++
	case errors.CategoryRateLimited:
		m.rateLimitHits++
	}

	if requestID == "" {
		return
	}
	req, ok := m.active[requestID]
	if !ok {
		return
	}
	delete(m.active, requestID)
	if req.streaming {
		if m.activeStreams > 0 {
			m.activeStreams--
		}
		m.failedStreams++
	}
}

// RecordRateLimit counts a rejected request for ip.
func (m *Metrics) RecordRateLimit(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rateLimitHits++
	m.rateLimitByIP[ip]++
}

// RecordFirstTokenLatency records the delay between accepting a request
// and emitting its first content delta.
func (m *Metrics) RecordFirstTokenLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firstTokenLatencies = appendBounded(m.firstTokenLatencies, d.Milliseconds())
}

// RecordTokensPerSecond records one completed generation's throughput.
func (m *Metrics) RecordTokensPerSecond(tps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokensPerSecond = append(m.tokensPerSecond, tps)
	if len(m.tokensPerSecond) > maxSamples {
		m.tokensPerSecond = m.tokensPerSecond[1:]
	}
}

// RecordTokens adds to the cumulative prompt and completion token totals.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prompt > 0 {
		m.totalPromptTokens += uint64(prompt)
	}
	if completion > 0 {
		m.totalCompletionTokens += uint64(completion)
	}
}

// RecordChunk counts one SSE content chunk written to a client.
func (m *Metrics) RecordChunk() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalChunksSent++
}

// ActiveCount reports the number of in-flight requests.
func (m *Metrics) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// IsActive reports whether requestID is still tracked as in-flight.
func (m *Metrics) IsActive(requestID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[requestID]
	return ok
}

// RecentErrors returns the error ring oldest first.
func (m *Metrics) RecentErrors() []RecentError {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	out := make([]RecentError, 0, len(m.recentErrors))
	for _, e := range m.recentErrors {
		out = append(out, RecentError{
			AgeSeconds: uint64(now.Sub(e.at).Seconds()),
			Category:   e.category,
			Message:    e.message,
		})
	}
	return out
}

// Snapshot captures the current metrics for the /metrics endpoint.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var avgTPS float64
	if len(m.tokensPerSecond) > 0 {
		var sum float64
		for _, v := range m.tokensPerSecond {
			sum += v
		}
		avgTPS = sum / float64(len(m.tokensPerSecond))
	}

	return Snapshot{
		Timestamp:     time.Now().Unix(),
		UptimeSeconds: int64(time.Since(m.startedAt).Seconds()),

		TotalRequests:        m.totalRequests,
		StreamingRequests:    m.streamingRequests,
		NonStreamingRequests: m.nonStreamingRequests,
		ActiveRequests:       uint64(len(m.active)),

		FirstTokenLatencyP50Ms: percentile(m.firstTokenLatencies, 50),
		FirstTokenLatencyP95Ms: percentile(m.firstTokenLatencies, 95),
		FirstTokenLatencyP99Ms: percentile(m.firstTokenLatencies, 99),

		RequestDurationP50Ms: percentile(m.requestDurations, 50),
		RequestDurationP95Ms: percentile(m.requestDurations, 95),
		RequestDurationP99Ms: percentile(m.requestDurations, 99),

		TotalPromptTokens:      m.totalPromptTokens,
		TotalCompletionTokens:  m.totalCompletionTokens,
		TotalChunksSent:        m.totalChunksSent,
		AverageTokensPerSecond: avgTPS,

		ActiveStreams:    m.activeStreams,
		CompletedStreams: m.completedStreams,
		FailedStreams:    m.failedStreams,

		ErrorsByCategory:  copyCounts(m.errorsByCategory),
		CancelledRequests: m.cancelled,
		TimedOutRequests:  m.timedOut,

		RateLimitHits: m.rateLimitHits,
		RateLimitByIP: copyCounts(m.rateLimitByIP),

		RequestsByModel: copyCounts(m.requestsByModel),
	}
}

// Snapshot is the JSON shape served by the /metrics endpoint.
type Snapshot struct {
	Timestamp     int64 `json:"timestamp"`
	UptimeSeconds int64 `json:"uptime_seconds"`

	TotalRequests        uint64 `json:"total_requests"`
	StreamingRequests    uint64 `json:"streaming_requests"`
	NonStreamingRequests uint64 `json:"non_streaming_requests"`
	ActiveRequests       uint64 `json:"active_requests"`

	FirstTokenLatencyP50Ms int64 `json:"first_token_latency_p50_ms"`
	FirstTokenLatencyP95Ms int64 `json:"first_token_latency_p95_ms"`
	FirstTokenLatencyP99Ms int64 `json:"first_token_latency_p99_ms"`

	RequestDurationP50Ms int64 `json:"request_duration_p50_ms"`
	RequestDurationP95Ms int64 `json:"request_duration_p95_ms"`
	RequestDurationP99Ms int64 `json:"request_duration_p99_ms"`

	TotalPromptTokens      uint64  `json:"total_prompt_tokens"`
	TotalCompletionTokens  uint64  `json:"total_completion_tokens"`
	TotalChunksSent        uint64  `json:"total_chunks_sent"`
	AverageTokensPerSecond float64 `json:"average_tokens_per_second"`

	ActiveStreams    uint64 `json:"active_streams"`
	CompletedStreams uint64 `json:"completed_streams"`
	FailedStreams    uint64 `json:"failed_streams"`

	ErrorsByCategory  map[string]uint64 `json:"errors_by_category"`
	CancelledRequests uint64            `json:"cancelled_requests"`
	TimedOutRequests  uint64            `json:"timed_out_requests"`

	RateLimitHits uint64            `json:"rate_limit_hits"`
	RateLimitByIP map[string]uint64 `json:"rate_limit_by_ip"`

	RequestsByModel map[string]uint64 `json:"requests_by_model"`
}

// appendBounded appends v and evicts the oldest sample once the window
// is full.
func appendBounded(window []int64, v int64) []int64 {
	window = append(window, v)
	if len(window) > maxSamples {
		window = window[1:]
	}
	return window
}

// percentile returns the sample at index (p/100)*(n-1) of the sorted
// window. An empty window yields 0.
func percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[idx]
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
