// Package main provides the modelgate binary entry point.
// Modelgate is a model governance control plane: a lifecycle registry,
// shadow comparison, drift monitoring, request routing, and a safety
// guard, all coordinated over NATS JetStream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/insightops/modelgate/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "modelgate"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "modelgate",
		Short: "Model governance control plane",
		Long: `Modelgate governs the lifecycle of served ML models.

It provides:
- A versioned model registry with lifecycle states and canary weights
- Shadow comparison runs between a candidate and the production model
- Embedding drift monitoring with alerting and retraining hooks
- Weighted request routing with per-target health tracking
- A safety guard that degrades serving when live metrics breach rules

All governance components communicate via NATS JetStream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	printBanner()

	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, watchPath, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app := NewApp(cfg, logger)

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := app.Start(signalCtx); err != nil {
		return err
	}

	if watchPath != "" {
		if err := app.WatchConfig(signalCtx, watchPath); err != nil {
			// Hot reload is best effort; a broken watch is not fatal.
			logger.Warn("Config watch disabled", "path", watchPath, "error", err)
		}
	}

	slog.Info("Modelgate ready", "version", Version, "http_addr", cfg.HTTP.Addr)

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	app.Shutdown(30 * time.Second)

	slog.Info("Modelgate shutdown complete")
	return nil
}

// loadConfig resolves the effective config and the file path the hot
// reload watcher should observe, if any.
func loadConfig(configPath string, logger *slog.Logger) (*config.Config, string, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, "", err
		}
		if err := cfg.Validate(); err != nil {
			return nil, "", err
		}
		return cfg, configPath, nil
	}

	loader := config.NewLoader(logger)
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", err
	}
	return cfg, loader.FindProjectConfig(), nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║            Modelgate v" + Version + "                    ║")
	fmt.Println("║      Model Governance Control Plane           ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
