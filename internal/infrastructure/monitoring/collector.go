package monitoring

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/pkg/safego"
)

// historyLimit bounds the sample ring kept for /metrics/history.
const historyLimit = 100

// HistorySample is one periodic observation pairing gateway throughput
// with process runtime stats.
type HistorySample struct {
	Timestamp          time.Time `json:"timestamp"`
	RequestsPerSecond  float64   `json:"requests_per_second"`
	ActiveRequests     uint64    `json:"active_requests"`
	ActiveStreams      uint64    `json:"active_streams"`
	TokensPerSecond    float64   `json:"tokens_per_second"`
	FirstTokenP50Ms    int64     `json:"first_token_p50_ms"`
	RequestDurationP50 int64     `json:"request_duration_p50_ms"`
	MemoryMB           float64   `json:"memory_mb"`
	Goroutines         int       `json:"goroutines"`
}

// Collector samples the metrics record on a fixed interval and keeps a
// bounded history for trend inspection.
type Collector struct {
	metrics *Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	history []HistorySample
}

// NewCollector creates a collector over the given metrics record.
func NewCollector(metrics *Metrics, logger *zap.Logger) *Collector {
	return &Collector{
		metrics: metrics,
		logger:  logger.With(zap.String("component", "metrics-collector")),
		history: make([]HistorySample, 0, historyLimit),
	}
}

// Start begins periodic sampling until ctx is cancelled.
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	safego.Loop(ctx, c.logger, "metrics-collector", interval, func() {
		c.Sample()
	})
}

// Sample takes one observation and appends it to the history.
func (c *Collector) Sample() HistorySample {
	snap := c.metrics.Snapshot()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var rps float64
	if snap.UptimeSeconds > 0 {
		rps = float64(snap.TotalRequests) / float64(snap.UptimeSeconds)
	}

	sample := HistorySample{
		Timestamp:          time.Now(),
		RequestsPerSecond:  rps,
		ActiveRequests:     snap.ActiveRequests,
		ActiveStreams:      snap.ActiveStreams,
		TokensPerSecond:    snap.AverageTokensPerSecond,
		FirstTokenP50Ms:    snap.FirstTokenLatencyP50Ms,
		RequestDurationP50: snap.RequestDurationP50Ms,
		MemoryMB:           float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:         runtime.NumGoroutine(),
	}

	c.mu.Lock()
	c.history = append(c.history, sample)
	if len(c.history) > historyLimit {
		c.history = c.history[1:]
	}
	c.mu.Unlock()

	return sample
}

// History returns a copy of the collected samples, oldest first.
func (c *Collector) History() []HistorySample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]HistorySample, len(c.history))
	copy(out, c.history)
	return out
}

// Dashboard is the JSON shape served by /metrics/history.
type Dashboard struct {
	Current      Snapshot        `json:"current"`
	History      []HistorySample `json:"history"`
	RecentErrors []RecentError   `json:"recent_errors"`
}

// DashboardData pairs the live snapshot with the sample history and the
// recent-error ring.
func (c *Collector) DashboardData() *Dashboard {
	return &Dashboard{
		Current:      c.metrics.Snapshot(),
		History:      c.History(),
		RecentErrors: c.metrics.RecentErrors(),
	}
}
