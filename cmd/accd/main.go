package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/acc-pipeline/internal/core"
)

const defaultConfigPath = "config/accd.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	enable := flag.Bool("enable", false, "Request engagement right after start")
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

	slog.Info("starting acc service",
		"config", *configPath,
		"debug", *debug,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	unit, err := core.NewUnitFromFile(*configPath)
	if err != nil {
		slog.Error("failed to create acc service", "error", err)
		os.Exit(1)
	}

	// Start health check HTTP server (non-blocking)
	if err := unit.StartHealthServer(); err != nil {
		slog.Error("failed to start health check server", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- unit.Run(ctx) // Always send, even if nil
	}()

	if *enable {
		unit.Pipeline().Enable()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
		if runErr == nil {
			slog.Info("service stopped (via MQTT shutdown command)")
		}
	}
	if runErr != nil {
		slog.Error("service error", "error", runErr)
	}

	code := stop(unit, runErr)
	cancel()
	os.Exit(code)
}

// stop shuts the unit down within its timeout, logs the final pipeline
// counters and returns the process exit code.
func stop(unit *core.Unit, runErr error) int {
	timeout := unit.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	code := 0
	if runErr != nil {
		code = 1
	}
	if err := unit.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
		code = 1
	}

	s := unit.Pipeline().Stats()
	slog.Info("acc service stopped",
		"exit_code", code,
		"state", s.State,
		"last_cause", s.LastCause,
		"transitions", s.Transitions,
		"control_sent", s.Control.Sent,
		"control_timeouts", s.Control.Timeouts,
		"actuator_applied", s.Actuation.Applied,
		"actuator_last_output", s.Actuation.LastOutput,
		"heartbeat_misses", s.HeartbeatMisses,
	)
	return code
}
