package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ruleengine/api"
	"ruleengine/config"
	"ruleengine/service"
	"ruleengine/util/goroutine"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// App represents the rule engine server with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Storage *StorageComponents

	// Services
	RuleService *service.RuleService
	APIServer   *api.API

	// Lifecycle
	listener  net.Listener
	serviceWg *sync.WaitGroup
	errCh     chan error
	closeOnce sync.Once
}

// NewApp loads configuration from configPath (empty searches the default
// locations) and initializes logging, storage and the rule service.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewAppWithConfig(ctx, cfg)
}

// NewAppWithConfig initializes the application from an already loaded config
func NewAppWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, sugar, err := InitLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     sugar,
		serviceWg: &sync.WaitGroup{},
		errCh:     make(chan error, 1),
	}

	sugar.Infow("Rule engine starting",
		"data_dir", cfg.DataPaths.DataDir,
		"sqlite_path", cfg.GetSQLitePath(),
		"catalog_attributes", len(cfg.Catalog.Attributes),
		"redis_enabled", cfg.Redis.Enabled)

	components, err := InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = components

	ruleService, err := components.NewRuleService(cfg, sugar)
	if err != nil {
		components.Close(sugar)
		return nil, fmt.Errorf("failed to initialize rule service: %w", err)
	}
	app.RuleService = ruleService

	return app, nil
}

// Start binds the API listener and serves in the background. A bind
// failure is returned directly.
func (a *App) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.Config.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.ListenAddr(), err)
	}
	a.listener = ln
	a.APIServer = api.NewAPI(a.RuleService, a.Storage.HealthChecks(), a.Config, a.Sugar)

	goroutine.Go(a.serviceWg, "api-server", a.Sugar, func() {
		if err := a.APIServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "error", err)
			a.errCh <- err
		}
	})

	a.Sugar.Infow("Rule engine started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound API address, or "" before Start
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// WaitForShutdown blocks until a shutdown signal arrives or the API server
// fails. It returns the server error, if any.
func (a *App) WaitForShutdown() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
		return nil
	case err := <-a.errCh:
		return err
	}
}

// Shutdown stops the API server and closes storage. Safe to call more than once.
func (a *App) Shutdown() {
	a.closeOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		if a.APIServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.APIServer.Stop(ctx); err != nil {
				a.Sugar.Errorw("Failed to stop API server", "error", err)
			}
		}

		done := make(chan struct{})
		go func() {
			a.serviceWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * shutdownTimeout):
			a.Sugar.Warn("Service goroutine shutdown timed out")
		}

		if a.Storage != nil {
			a.Storage.Close(a.Sugar)
		}

		a.Sugar.Info("Shutdown complete")
		_ = a.Logger.Sync()
	})
}
