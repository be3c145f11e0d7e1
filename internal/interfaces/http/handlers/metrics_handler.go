package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/infrastructure/monitoring"
)

// MetricsHandler serves the gateway metrics record in three shapes: the
// raw snapshot, the sampled trend dashboard, and Prometheus text.
type MetricsHandler struct {
	metrics   *monitoring.Metrics
	collector *monitoring.Collector
	logger    *zap.Logger
}

func NewMetricsHandler(metrics *monitoring.Metrics, collector *monitoring.Collector, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, collector: collector, logger: logger}
}

// Snapshot serves the point-in-time metrics snapshot.
// GET /metrics
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// History serves the live snapshot plus the sampled history.
// GET /metrics/history
func (h *MetricsHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.DashboardData())
}

// Prometheus serves the record in Prometheus text exposition format.
// GET /metrics/prometheus
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	h.metrics.PrometheusHandler().ServeHTTP(c.Writer, c.Request)
}
