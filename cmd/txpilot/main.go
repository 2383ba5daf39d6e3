package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"
	"github.com/vietddude/txpilot/internal/control"
	"github.com/vietddude/txpilot/internal/core/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	// Load Configuration first (before setting up logger)
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	// Initialize stylelog with tint.Options for level control
	stylelog.InitDefault(
		&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	slog.Info("Logger initialized", "level", slogLevel.String())

	// Initialize App
	app, err := control.NewApp(cfg)
	if err != nil {
		slog.Error("Failed to initialize txpilot", "error", err)
		os.Exit(1)
	}

	// Setup Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start App
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start txpilot", "error", err)
		os.Exit(1)
	}

	// Wait for Signal
	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	// Graceful Shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("txpilot stopped gracefully")
}
