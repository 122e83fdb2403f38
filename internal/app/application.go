// Package app wires the hub's components into one runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"classhub/internal/api"
	"classhub/internal/broadcast"
	"classhub/internal/classroom"
	"classhub/internal/clock"
	"classhub/internal/config"
	"classhub/internal/hub"
	"classhub/internal/identity"
	"classhub/internal/liveness"
	"classhub/internal/metrics"
	"classhub/internal/router"
	"classhub/internal/websocket"
	"classhub/pkg/database"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	db         *sqlx.DB
	registry   *classroom.Registry
	messageHub *hub.Hub
	liveness   *liveness.Loop
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Directory → Identity → Store/Registry → Broadcast → Router → Hub → Liveness → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: roster directory, schema kept current on every start
	db, err := database.Open(ctx, &cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}
	applied, err := database.NewMigrationManager(db).ApplyMigrations(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply directory migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("directory migrations applied", "versions", applied)
	}

	clk := clock.Real{}
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(prometheus.NewRegistry())
	}

	// STEP 2: identity, store and registry
	tokens := identity.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenExpiry, cfg.Auth.Issuer, clk)
	ident := identity.NewService(tokens, identity.NewDirectory(db), logger.With("component", "identity"))
	if cfg.Auth.Secret == "" {
		logger.Warn("auth secret is empty; every connection will be rejected")
	}
	store := classroom.NewStore(clk)
	registry := classroom.NewRegistry(store, ident, logger.With("component", "registry"), collector)

	// STEP 3: broadcast engine doubles as the registry's disconnect notifier
	engine := broadcast.NewEngine(registry, clk, logger.With("component", "broadcast"), collector)
	registry.SetNotifier(engine)

	// STEP 4: router behind the per-class command queues
	limiter := router.NewRateLimiter(cfg.Router.RateLimit, cfg.Router.RateWindow, clk)
	messageRouter := router.NewRouter(registry, store, engine, limiter, logger.With("component", "router"), collector)
	messageHub := hub.NewHub(messageRouter, cfg.Router.QueueSize, logger.With("component", "hub"))

	// STEP 5: liveness sweeps
	loop := liveness.NewLoop(liveness.Deps{
		Roster:    registry,
		States:    store,
		Announcer: messageRouter,
		Queues:    messageHub,
		Cleaner:   limiter,
		Clock:     clk,
	}, liveness.Config{
		HeartbeatInterval: cfg.Liveness.HeartbeatInterval,
		ReclaimInterval:   cfg.Liveness.ReclaimInterval,
		TimerInterval:     cfg.Liveness.TimerInterval,
		InactivityTimeout: cfg.Liveness.InactivityTimeout,
		ReclamationWindow: cfg.Liveness.ReclamationWindow,
	}, logger, collector)

	// STEP 6: HTTP surface, sockets mounted beside the ops API
	deps := api.Deps{
		Roster:      registry,
		States:      store,
		Queues:      messageHub,
		Directory:   db,
		MetricsPath: cfg.Metrics.Path,
	}
	if collector != nil {
		deps.Metrics = collector.Handler()
	}
	apiServer := api.NewServer(deps, logger.With("component", "api"))
	websocket.NewHandler(registry, messageRouter, messageHub, websocket.Config{
		CookieName:     cfg.Auth.CookieName,
		ReadLimit:      cfg.WebSocket.ReadLimit,
		PongWait:       cfg.WebSocket.PongWait,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		MaxMalformed:   cfg.WebSocket.MaxMalformed,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger.With("component", "websocket")).Register(apiServer.Router())

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		db:         db,
		registry:   registry,
		messageHub: messageHub,
		liveness:   loop,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

// Start begins application execution
// Hub starts first to handle messages, then liveness, then the listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}
	app.liveness.Start()

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.liveness.Stop(ctx)
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.logger.Info("classhub started", "addr", ln.Addr().String())
	return nil
}

// Errors yields a fatal serve error, and is closed once the server stops.
func (app *Application) Errors() <-chan error {
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → live sockets → Liveness → Hub → Directory
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down classhub")
	var errs []error

	// Shutdown does not track hijacked sockets, so they are closed explicitly.
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	closed := app.closeAll("shutdown")
	if closed > 0 {
		app.logger.Info("closed live connections", "count", closed)
	}

	if err := app.liveness.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("liveness shutdown: %w", err))
	}
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := app.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("directory close: %w", err))
	}

	app.logger.Info("classhub shutdown complete")
	return errors.Join(errs...)
}

// closeAll removes every live participant. Ids are collected first because
// ForEachLive holds the class lock that Remove needs.
func (app *Application) closeAll(reason string) int {
	var ids []string
	app.registry.ForEachLive(func(info types.ParticipantInfo, _ interfaces.Connection) {
		ids = append(ids, info.ConnectionID)
	})
	n := 0
	for _, id := range ids {
		if app.registry.Remove(id, reason) {
			n++
		}
	}
	return n
}

// Addr returns the bound listen address once started, the configured one before.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
