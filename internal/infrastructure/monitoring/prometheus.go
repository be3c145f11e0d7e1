package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
)

// PrometheusHandler returns an http.Handler serving the metrics record in
// Prometheus text exposition format, without the client_golang dependency.
// Mount it beside the JSON snapshot endpoint for scrapers.
func (m *Metrics) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		snap := m.Snapshot()

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			// Request counters
			{"chatsafe_requests_total", "Total chat completion requests accepted", "counter", snap.TotalRequests},
			{"chatsafe_streaming_requests_total", "Requests served over SSE", "counter", snap.StreamingRequests},
			{"chatsafe_non_streaming_requests_total", "Requests served as a single JSON body", "counter", snap.NonStreamingRequests},
			{"chatsafe_active_requests", "Requests currently in flight", "gauge", snap.ActiveRequests},
			{"chatsafe_cancelled_requests_total", "Requests cancelled by the client", "counter", snap.CancelledRequests},
			{"chatsafe_timed_out_requests_total", "Requests that hit a timeout", "counter", snap.TimedOutRequests},
			{"chatsafe_rate_limit_hits_total", "Requests rejected by the rate limiter", "counter", snap.RateLimitHits},

			// Stream counters
			{"chatsafe_active_streams", "SSE streams currently open", "gauge", snap.ActiveStreams},
			{"chatsafe_completed_streams_total", "SSE streams that finished cleanly", "counter", snap.CompletedStreams},
			{"chatsafe_failed_streams_total", "SSE streams that ended in an error", "counter", snap.FailedStreams},

			// Token counters
			{"chatsafe_prompt_tokens_total", "Estimated prompt tokens processed", "counter", snap.TotalPromptTokens},
			{"chatsafe_completion_tokens_total", "Completion tokens generated", "counter", snap.TotalCompletionTokens},
			{"chatsafe_chunks_sent_total", "SSE content chunks written to clients", "counter", snap.TotalChunksSent},

			// Latency percentiles
			{"chatsafe_first_token_latency_p50_ms", "First-token latency p50 over the sample window", "gauge", snap.FirstTokenLatencyP50Ms},
			{"chatsafe_first_token_latency_p95_ms", "First-token latency p95 over the sample window", "gauge", snap.FirstTokenLatencyP95Ms},
			{"chatsafe_first_token_latency_p99_ms", "First-token latency p99 over the sample window", "gauge", snap.FirstTokenLatencyP99Ms},
			{"chatsafe_request_duration_p50_ms", "Request duration p50 over the sample window", "gauge", snap.RequestDurationP50Ms},
			{"chatsafe_request_duration_p95_ms", "Request duration p95 over the sample window", "gauge", snap.RequestDurationP95Ms},
			{"chatsafe_request_duration_p99_ms", "Request duration p99 over the sample window", "gauge", snap.RequestDurationP99Ms},
			{"chatsafe_tokens_per_second_avg", "Average generation throughput", "gauge", snap.AverageTokensPerSecond},

			// Process
			{"chatsafe_uptime_seconds", "Gateway uptime in seconds", "gauge", snap.UptimeSeconds},
			{"chatsafe_memory_alloc_bytes", "Current heap allocation in bytes", "gauge", memStats.Alloc},
			{"chatsafe_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"chatsafe_gc_cycles_total", "Completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		writeLabelled(w, "chatsafe_errors_total", "Errors by category", "category", snap.ErrorsByCategory)
		writeLabelled(w, "chatsafe_model_requests_total", "Requests by model", "model", snap.RequestsByModel)
	})
}

// writeLabelled emits one counter family with a single label dimension,
// keys sorted for stable scrape output.
func writeLabelled(w http.ResponseWriter, name, help, label string, counts map[string]uint64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", name, label, k, counts[k])
	}
	fmt.Fprintln(w)
}
