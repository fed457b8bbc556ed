// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the offline cache server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"offlinecache/config"
	"offlinecache/internal/cache"
	"offlinecache/internal/core"
	"offlinecache/internal/httpclient"
	"offlinecache/internal/network"
	"offlinecache/internal/server"
	"offlinecache/internal/shim"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config *config.Config
	cache  *cache.Result
	shim   *shim.Shim
	server *server.Server

	activationMu     sync.RWMutex
	activation       *shim.Activation
	cancelActivation context.CancelFunc

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration.
	AppConfig *config.Config

	// Hooks receives shim events for metrics; nil disables them.
	Hooks shim.Hooks

	// Fetcher overrides the origin HTTP fetcher (tests).
	Fetcher core.Fetcher
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	app := &App{config: appCfg}

	cacheResult, err := cache.New(ctx, appCfg.CacheBackendConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache storage: %w", err)
	}
	app.cache = cacheResult

	fetcher := cfg.Fetcher
	if fetcher == nil {
		clientCfg := httpclient.DefaultConfig()
		clientCfg.Timeout = appCfg.Origin.Timeout
		clientCfg.ResponseHeaderTimeout = appCfg.Origin.ResponseHeaderTimeout
		httpFetcher, err := network.NewHTTPFetcher(appCfg.Origin.URL, httpclient.NewHTTPClient(&clientCfg),
			network.WithAllowedURLs(appCfg.Cache.Assets...))
		if err != nil {
			return nil, app.closeOnError("failed to create origin fetcher", err)
		}
		fetcher = httpFetcher
	}

	var opts []shim.Option
	if cfg.Hooks != nil {
		opts = append(opts, shim.WithHooks(cfg.Hooks))
	}
	s, err := shim.New(cacheResult.Storage, fetcher, shim.Config{
		Namespace:   appCfg.Cache.Namespace,
		Assets:      appCfg.Cache.Assets,
		Concurrency: appCfg.Cache.PrecacheConcurrency,
	}, opts...)
	if err != nil {
		return nil, app.closeOnError("failed to create shim", err)
	}
	app.shim = s

	app.logStartupInfo()

	app.server = server.New(s, &server.Config{
		AdminKey:        appCfg.Server.AdminKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		Storage:         cacheResult.Storage,
		Readiness:       app,
	})

	return app, nil
}

func (a *App) closeOnError(msg string, err error) error {
	if closeErr := a.cache.Close(); closeErr != nil {
		return fmt.Errorf("%s: %w (also: cache close error: %v)", msg, err, closeErr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Shim returns the offline cache shim.
func (a *App) Shim() *shim.Shim {
	return a.shim
}

// Handler returns the HTTP front for in-process use (tests).
func (a *App) Handler() http.Handler {
	return a.server
}

// Activate fires the activation signal once; later calls return the same activation.
func (a *App) Activate(ctx context.Context) *shim.Activation {
	a.activationMu.Lock()
	defer a.activationMu.Unlock()

	if a.activation != nil {
		return a.activation
	}
	actCtx, cancel := context.WithCancel(ctx)
	a.cancelActivation = cancel
	a.activation = a.shim.Install(actCtx)

	activation := a.activation
	go func() {
		<-activation.Done()
		if err := activation.Err(); err != nil {
			slog.Error("activation failed", "namespace", activation.Namespace(), "error", err)
			return
		}
		slog.Info("activation complete", "namespace", activation.Namespace(), "duration", activation.Duration())
	}()
	return a.activation
}

// Precache runs initialization synchronously, for one-shot population.
func (a *App) Precache(ctx context.Context) error {
	return a.shim.Initialize(ctx, a.config.Cache.Assets, a.config.Cache.Namespace)
}

// State reports the activation state; pending until Activate has been called.
func (a *App) State() shim.State {
	a.activationMu.RLock()
	defer a.activationMu.RUnlock()
	if a.activation == nil {
		return shim.StatePending
	}
	return a.activation.State()
}

// Err returns the activation failure, if any.
func (a *App) Err() error {
	a.activationMu.RLock()
	defer a.activationMu.RUnlock()
	if a.activation == nil {
		return nil
	}
	return a.activation.Err()
}

// Start fires the activation signal and starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(ctx context.Context, addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.Activate(ctx)

	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server, then any in-flight activation, then the cache storage.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every close step and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	a.activationMu.Lock()
	activation, cancel := a.activation, a.cancelActivation
	a.activationMu.Unlock()
	if cancel != nil {
		cancel()
		// wait so the cache is not closed under a pending PutAll
		select {
		case <-activation.Done():
		case <-ctx.Done():
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("origin configured", "url", cfg.Origin.URL)
	slog.Info("cache configured",
		"backend", cfg.Cache.Backend,
		"namespace", cfg.Cache.Namespace,
		"assets", len(cfg.Cache.Assets),
		"precache_concurrency", cfg.Cache.PrecacheConcurrency,
	)

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Server.AdminKey == "" {
		slog.Warn("ADMIN_KEY not set - cache inspection routes are unauthenticated")
	}
}
