package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/application/usecase"
	"github.com/everettbu/chatsafe/internal/infrastructure/config"
	"github.com/everettbu/chatsafe/internal/infrastructure/engine"
	"github.com/everettbu/chatsafe/internal/infrastructure/monitoring"
	"github.com/everettbu/chatsafe/internal/infrastructure/persistence"
	"github.com/everettbu/chatsafe/internal/infrastructure/ratelimit"
	"github.com/everettbu/chatsafe/internal/infrastructure/registry"
	httpServer "github.com/everettbu/chatsafe/internal/interfaces/http"
	"github.com/everettbu/chatsafe/internal/interfaces/websocket"
)

// Version is the gateway release served on /health and /version.
const Version = "0.1.0"

// collectorInterval is how often the metrics collector samples.
const collectorInterval = 10 * time.Second

// App wires the gateway components together and owns their lifecycle.
type App struct {
	config *config.Config
	logger *zap.Logger

	registry  *registry.Registry
	engine    *engine.Adapter
	limiter   *ratelimit.Limiter
	metrics   *monitoring.Metrics
	collector *monitoring.Collector
	store     *persistence.Store

	chatUseCase *usecase.ChatCompletionUseCase
	wsHandler   *websocket.Handler
	httpServer  *httpServer.Server

	modelID  string
	cancelBg context.CancelFunc
}

// New builds the dependency graph. Nothing is started yet.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{config: cfg, logger: logger}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	app.initApplicationServices()
	app.initInterfaces()

	return app, nil
}

func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	reg, err := registry.Load(app.config.RegistryPath(), app.config.Models.Directory, app.logger)
	if err != nil {
		return fmt.Errorf("load model registry: %w", err)
	}
	app.registry = reg

	app.modelID = app.config.Models.DefaultModel
	if app.modelID == "" {
		def, err := reg.DefaultModel()
		if err != nil {
			return fmt.Errorf("resolve default model: %w", err)
		}
		app.modelID = def.ID
	}

	app.engine = engine.New(engine.Config{
		Binary:    app.config.Engine.Binary,
		Port:      app.config.Engine.Port,
		Threads:   app.config.Engine.Threads,
		GPULayers: app.config.Engine.GPULayers,
	}, app.modelID, reg, app.logger)

	app.limiter = ratelimit.New(ratelimit.Config{
		PerIPPerMinute:     app.config.Limits.PerIPPerMinute,
		MaxConcurrentPerIP: app.config.Limits.MaxConcurrentPerIP,
		GlobalPerMinute:    app.config.Limits.GlobalPerMinute,
		CleanupInterval:    app.config.Limits.CleanupInterval,
	}, app.logger)

	app.metrics = monitoring.NewMetrics()
	app.collector = monitoring.NewCollector(app.metrics, app.logger)

	if app.config.Store.Enabled {
		db, err := persistence.NewDB(app.config.Store)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		app.store = persistence.NewStore(db, app.logger)
	}

	return nil
}

func (app *App) initApplicationServices() {
	app.chatUseCase = usecase.NewChatCompletionUseCase(
		app.engine,
		app.registry,
		app.limiter,
		app.metrics,
		app.store,
		app.logger,
	)
}

func (app *App) initInterfaces() {
	app.wsHandler = websocket.NewHandler(app.chatUseCase, app.metrics, app.logger)
	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host:           app.config.Server.Host,
			Port:           app.config.Server.Port,
			MaxConnections: app.config.Server.MaxConnections,
			Mode:           app.config.Server.Mode,
			Version:        Version,
		},
		app.chatUseCase,
		app.engine,
		app.registry,
		app.metrics,
		app.collector,
		app.store,
		app.wsHandler,
		app.logger,
	)
}

// Start loads the model into the engine, starts the background loops, and
// opens the HTTP listener.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application", zap.String("model", app.modelID))

	bgCtx, cancel := context.WithCancel(context.Background())
	app.cancelBg = cancel

	if _, err := app.engine.Load(ctx, app.modelID); err != nil {
		cancel()
		return fmt.Errorf("load model %s: %w", app.modelID, err)
	}

	app.limiter.StartCleanup(bgCtx)
	app.collector.Start(bgCtx, collectorInterval)
	if err := app.registry.Watch(bgCtx); err != nil {
		app.logger.Warn("Registry watcher unavailable", zap.Error(err))
	}

	if err := app.httpServer.Start(ctx); err != nil {
		cancel()
		app.shutdownEngine()
		return fmt.Errorf("start HTTP server: %w", err)
	}

	app.logger.Info("Application started", zap.String("address", app.config.ServerAddr()))
	return nil
}

// Stop shuts the gateway down: HTTP first so no new requests arrive, then
// the background loops, the engine subprocess, and the usage store.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application", zap.Int("active_requests", app.metrics.ActiveCount()))

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	if app.cancelBg != nil {
		app.cancelBg()
	}

	app.shutdownEngine()

	if app.store != nil {
		app.store.Close()
	}

	app.logger.Info("Application stopped")
	return nil
}

func (app *App) shutdownEngine() {
	if err := app.engine.Shutdown(); err != nil {
		app.logger.Error("Engine shutdown failed", zap.Error(err))
	}
}
