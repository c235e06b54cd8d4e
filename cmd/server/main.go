package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/convpipe/internal/config"
	"github.com/JonMunkholm/convpipe/internal/core"
	"github.com/JonMunkholm/convpipe/internal/logging"
	"github.com/JonMunkholm/convpipe/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, nil)
	slog.Info("configuration loaded", "config", cfg.String())

	service := core.NewServiceFromConfig(cfg)

	if cfg.Database.EnsureSchema {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout+cfg.Database.QueryTimeout)
		err := service.EnsureSchema(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to ensure schema", "table", service.Table(), "error", err)
			os.Exit(1)
		}
		slog.Info("schema ready", "table", service.Table())
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := service.WaitForBatches(shutdownCtx); err != nil {
			slog.Warn("batches did not finish in time", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
