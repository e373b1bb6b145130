package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"odzai/internal/cli"
	applog "odzai/internal/log"
	"odzai/internal/middleware/ratelimit"
	"odzai/internal/proxy"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig("")
	if err != nil {
		cli.SetupLogger("info", os.Stdout).Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel, os.Stdout)

	srv, err := proxy.NewServer(proxy.Config{
		Addr:        ":" + cfg.Port,
		UpstreamURL: cfg.SyncServerURL,
		RateLimit:   ratelimit.DefaultConfig(),
	}, logger.WithComponent(applog.ComponentProxy))
	if err != nil {
		logger.Error("Failed to configure proxy", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
	})

	logger.Info("Starting odzai proxy",
		"port", cfg.Port,
		"upstream", cfg.SyncServerURL,
		"path", proxy.ActivatePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
