package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"offlinecache/config"
	"offlinecache/internal/app"
	"offlinecache/internal/logging"
	"offlinecache/internal/observability"
	"offlinecache/internal/shim"
	"offlinecache/internal/version"
)

const shutdownTimeout = 30 * time.Second

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "offlinecache",
		Usage: "offline cache shim: precaches an asset list and serves fetches cache-first",
		// root flags are inherited by every subcommand
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file read before the environment (missing file is ignored)",
				Value:   ".env",
				Sources: cli.EnvVars("OFFLINECACHE_ENV_FILE"),
			},
		},
		// serve is the default
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "activate the shim and serve fetches over HTTP",
				Action: serve,
			},
			{
				Name:   "precache",
				Usage:  "populate the configured namespace once and exit",
				Action: precache,
			},
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(_ context.Context, cmd *cli.Command) error {
					_, err := fmt.Fprintln(cmd.Root().Writer, version.Info())
					return err
				},
			},
		},
	}
}

// setup loads configuration and installs the process logger.
func setup(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadFrom(cmd.String("env-file"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level}); err != nil {
		return nil, err
	}

	slog.Info("starting offlinecache",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	var hooks shim.Hooks
	if cfg.Metrics.Enabled {
		hooks = observability.NewPrometheusHooks()
	}

	application, err := app.New(ctx, app.Config{AppConfig: cfg, Hooks: hooks})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runUntilStopped(ctx, application, ":"+cfg.Server.Port)
}

// runUntilStopped serves until ctx is done and returns only after the
// application has finished shutting down.
func runUntilStopped(ctx context.Context, application *app.App, addr string) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	if err := application.Start(ctx, addr); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
		return err
	}
	<-shutdownDone
	return nil
}

func precache(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, app.Config{AppConfig: cfg})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := application.Shutdown(context.Background()); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	if err := application.Precache(ctx); err != nil {
		return fmt.Errorf("precache failed: %w", err)
	}
	slog.Info("precache finished", "namespace", cfg.Cache.Namespace, "assets", len(cfg.Cache.Assets))
	return nil
}
