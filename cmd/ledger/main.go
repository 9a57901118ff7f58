package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"ledger/internal/cli"
	apphttp "ledger/internal/http"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

func main() {
	cli.LoadEnvFile()

	bootstrap := cli.SetupLogger(log.ParseLevel(os.Getenv("LOG_LEVEL")))
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel)

	ctx := context.Background()
	backend := cli.InitBackend(ctx, logger, cfg)

	store := ledger.New(append(backend.Options(), ledger.WithLogger(logger.WithComponent(log.ComponentLedger)))...)
	if err := store.Load(ctx); err != nil {
		logger.WarnContext(ctx, "Failed to load existing data, continuing with what was read",
			log.FieldError, err,
			log.FieldBackend, cfg.SnapshotBackend)
	}

	srv := apphttp.NewServer(":"+cfg.Port, store, apphttp.Options{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		Logger:             logger,
		ReadyCheck:         backend.Ping,
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	shutdownCtx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Server shutdown error", log.FieldError, err)
		}
		if backend.Cleanup != nil {
			if err := backend.Cleanup(); err != nil {
				logger.ErrorContext(ctx, "Backend cleanup error", log.FieldError, err)
			}
		}
	})

	logger.InfoContext(ctx, "Starting ledger server",
		"port", cfg.Port,
		log.FieldBackend, cfg.SnapshotBackend,
		"events_enabled", backend.Publisher != nil)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorContext(ctx, "Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
