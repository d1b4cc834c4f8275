package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hestia/backend/internal/config"
	"github.com/hestia/backend/internal/db"
	"github.com/hestia/backend/internal/handlers"
	"github.com/hestia/backend/internal/httpserver"
	"github.com/hestia/backend/internal/logging"
	"github.com/hestia/backend/internal/metrics"
	"github.com/hestia/backend/internal/middleware"
)

// Run bootstraps the Hestia backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel).With("env", cfg.Environment)
	slog.SetDefault(logger)
	ctx = logging.WithLogger(ctx, logger)

	switch args[0] {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		return runMigrations(ctx, cfg, args[1:])
	case "seed":
		return runSeed(ctx, cfg, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	metrics.Register(prometheus.DefaultRegisterer)

	deps, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps)

	handler := middleware.RequestLogger(logger)(middleware.Metrics(mux))
	srv := httpserver.New(cfg.AppPort, handler)

	logger.Info("starting http server", "port", cfg.AppPort,
		"picture_backend", pictureBackend(cfg), "events_enabled", cfg.Events.AMQPURL != "")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested", "cause", context.Cause(ctx))
	case runErr = <-srvErr:
		if runErr != nil {
			logger.Error("http server stopped", "error", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := cleanup(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("drain events: %w", err))
	}
	return runErr
}

func pictureBackend(cfg config.Config) string {
	if cfg.ObjectStore.Bucket != "" {
		return "s3"
	}
	return "postgres"
}

func runSeed(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("expected seed name (e.g. dev)")
	}

	seedName := args[0]
	if !strings.HasSuffix(seedName, ".sql") {
		seedName = fmt.Sprintf("%s_seed.sql", seedName)
	}

	seedDir, err := resolveDir(cfg.SeedDir)
	if err != nil {
		return err
	}

	contents, err := os.ReadFile(joinPath(seedDir, seedName))
	if err != nil {
		return fmt.Errorf("read seed %s: %w", seedName, err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("apply seed %s: %w", seedName, err)
	}

	logging.FromContext(ctx).Info("applied seed", "seed", seedName)
	return nil
}
