package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sentinelshield/sentinel/internal/config"
	"github.com/sentinelshield/sentinel/internal/core"
)

const (
	defaultConfigPath = "config/sentinel.yaml"
	healthCheckPort   = "8080"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting sentinel service",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// SIGUSR1 saves the current frame outside the alert path
	saveChan := make(chan os.Signal, 1)
	signal.Notify(saveChan, syscall.SIGUSR1)

	sentinel, err := core.New(cfg)
	if err != nil {
		slog.Error("failed to create sentinel service", "error", err)
		os.Exit(1)
	}

	if err := sentinel.StartHealthServer(healthCheckPort); err != nil {
		slog.Error("failed to start health check server", "error", err)
		os.Exit(1)
	}

	go func() {
		for range saveChan {
			if _, err := sentinel.SaveSnapshot(); err != nil {
				slog.Warn("manual snapshot failed", "error", err)
			}
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- sentinel.Run(ctx) // Always send, even if nil
	}()

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case runErr := <-errChan:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		} else {
			slog.Info("service stopped (via MQTT shutdown command)")
		}
	}

	shutdownTimeout := sentinel.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := sentinel.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("sentinel service stopped successfully")
}
