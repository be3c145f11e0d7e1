package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/everettbu/chatsafe/internal/application/usecase"
	"github.com/everettbu/chatsafe/internal/infrastructure/monitoring"
	"github.com/everettbu/chatsafe/internal/infrastructure/persistence"
	"github.com/everettbu/chatsafe/internal/infrastructure/registry"
	"github.com/everettbu/chatsafe/internal/interfaces/http/handlers"
	"github.com/everettbu/chatsafe/internal/interfaces/websocket"
)

// Server is the loopback HTTP front of the gateway.
type Server struct {
	server   *http.Server
	maxConns int
	logger   *zap.Logger
}

// Config selects the listen address and router mode.
type Config struct {
	Host           string
	Port           int
	MaxConnections int
	Mode           string // release, debug
	Version        string
}

// NewServer wires the handlers onto a gin router.
func NewServer(
	cfg Config,
	uc *usecase.ChatCompletionUseCase,
	eng handlers.EngineHealth,
	reg *registry.Registry,
	metrics *monitoring.Metrics,
	collector *monitoring.Collector,
	store *persistence.Store,
	ws *websocket.Handler,
	logger *zap.Logger,
) *Server {
	if cfg.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(ginLogger(logger))

	completions := handlers.NewCompletionHandler(uc, metrics, logger)
	health := handlers.NewHealthHandler(eng, cfg.Version, logger)
	metricsHandler := handlers.NewMetricsHandler(metrics, collector, logger)
	models := handlers.NewModelHandler(reg, logger)
	usage := handlers.NewUsageHandler(store, logger)

	setupRoutes(router, completions, health, metricsHandler, models, usage, ws)

	return &Server{
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
		maxConns: cfg.MaxConnections,
		logger:   logger,
	}
}

// Start opens the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	if s.maxConns > 0 {
		listener = netutil.LimitListener(listener, s.maxConns)
	}

	s.logger.Info("Starting HTTP server",
		zap.String("address", s.server.Addr),
		zap.Int("max_connections", s.maxConns),
	)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(
	router *gin.Engine,
	completions *handlers.CompletionHandler,
	health *handlers.HealthHandler,
	metrics *handlers.MetricsHandler,
	models *handlers.ModelHandler,
	usage *handlers.UsageHandler,
	ws *websocket.Handler,
) {
	router.GET("/health", health.Health)
	router.GET("/healthz", health.Health)
	router.GET("/version", health.Version)

	router.GET("/metrics", metrics.Snapshot)
	router.GET("/metrics/history", metrics.History)
	router.GET("/metrics/prometheus", metrics.Prometheus)

	router.GET("/models", models.List)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", completions.ChatCompletions)
		v1.GET("/models", models.ListOpenAI)
		v1.GET("/usage", usage.Usage)
		if ws != nil {
			v1.GET("/chat/ws", ws.Handle)
		}
	}
}

// requestIDMiddleware assigns every request an id, honoring one supplied
// by the client, and echoes it on the response.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("x-request-id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(handlers.ContextKeyRequestID, id)
		c.Header("x-request-id", id)
		c.Next()
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", handlers.RequestID(c)),
		)
	}
}
