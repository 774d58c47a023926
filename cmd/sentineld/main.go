package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/care/sentinel/internal/config"
	"github.com/care/sentinel/internal/core"
	"github.com/care/sentinel/internal/source"
	"github.com/care/sentinel/internal/source/gstreamer"
	"github.com/care/sentinel/internal/source/opencv"
)

const defaultConfigPath = "config/sentinel.yaml"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sentineld [-config path] [-debug] <command> [flags]

Commands:
  serve                 run the service and wait for analyze commands over MQTT
  analyze -input FILE   analyze one video and exit

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = usage
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	command := "serve"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}

	slog.Info("starting sentinel",
		"command", command,
		"config", *configPath,
		"debug", *debug,
	)

	switch command {
	case "serve":
		err = serve(cfg)
	case "analyze":
		err = analyze(cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("sentinel failed", "command", command, "error", err)
		os.Exit(1)
	}
}

// loadConfig falls back to defaults when the default config file is absent.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Load("")
		}
	}
	return config.Load(path)
}

func newSentinel(cfg *config.Config) (*core.Sentinel, error) {
	return core.New(cfg,
		core.WithSourceOpener("gst", func(c config.StreamConfig) (source.Source, error) {
			return gstreamer.Open(gstreamer.Config{Path: c.Path, Width: c.Width, Height: c.Height, FPS: c.FPS})
		}),
		core.WithSourceOpener("opencv", func(c config.StreamConfig) (source.Source, error) {
			return opencv.Open(opencv.Config{Path: c.Path, Width: c.Width, Height: c.Height})
		}),
	)
}

func serve(cfg *config.Config) error {
	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sentinel, err := newSentinel(cfg)
	if err != nil {
		return fmt.Errorf("failed to create sentinel service: %w", err)
	}

	// Start health check HTTP server (non-blocking)
	if err := sentinel.StartHealthServer(cfg.Health.Port); err != nil {
		return fmt.Errorf("failed to start health check server: %w", err)
	}

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- sentinel.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case runErr = <-errChan:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		} else {
			slog.Info("service stopped (via MQTT shutdown command)")
		}
	}

	if err := shutdown(sentinel); err != nil {
		return err
	}
	slog.Info("sentinel service stopped successfully")
	return runErr
}

func analyze(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	input := fs.String("input", cfg.Stream.Path, "Video file to analyze")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" && cfg.Stream.Source != "synthetic" {
		return fmt.Errorf("analyze requires -input for source %q", cfg.Stream.Source)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sentinel, err := newSentinel(cfg)
	if err != nil {
		return fmt.Errorf("failed to create sentinel service: %w", err)
	}
	if err := sentinel.StartHealthServer(cfg.Health.Port); err != nil {
		return fmt.Errorf("failed to start health check server: %w", err)
	}

	res, err := sentinel.Analyze(ctx, *input)
	if res != nil {
		slog.Info("analysis complete",
			"stream_id", res.StreamID,
			"frames", res.Frames,
			"windows", res.Windows,
			"alarm_episodes", res.AlarmEpisodes,
			"flagged", res.Flagged,
			"report_frames", res.Report.Positions(),
		)
	}

	if serr := shutdown(sentinel); serr != nil && err == nil {
		err = serr
	}
	return err
}

func shutdown(sentinel *core.Sentinel) error {
	shutdownTimeout := sentinel.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sentinel.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
