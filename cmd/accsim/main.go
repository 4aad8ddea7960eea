// Command accsim drives the ACC pipeline against the simulated vehicle in
// real time, scripts a lead-vehicle scenario and writes the trajectory as
// CSV and PNG plots.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/acc"
	"github.com/e7canasta/acc-pipeline/internal/config"
	"github.com/e7canasta/acc-pipeline/internal/core"
	"github.com/e7canasta/acc-pipeline/internal/hal"
	"github.com/e7canasta/acc-pipeline/internal/trace"
)

const simStep = 10 * time.Millisecond

// step is one scripted scenario event.
type step struct {
	at    time.Duration
	name  string
	apply func(p *acc.Pipeline, v *hal.Vehicle)
}

func scenario(duration time.Duration) []step {
	return []step{
		{0, "enable", func(p *acc.Pipeline, _ *hal.Vehicle) { p.Enable() }},
		{duration * 3 / 10, "lead brakes", func(_ *acc.Pipeline, v *hal.Vehicle) { v.SetLeadSpeed(70) }},
		{duration * 6 / 10, "lead accelerates", func(_ *acc.Pipeline, v *hal.Vehicle) { v.SetLeadSpeed(110) }},
		{duration * 8 / 10, "unsafe input", func(p *acc.Pipeline, _ *hal.Vehicle) { p.SetSafe(false) }},
		{duration * 9 / 10, "safe and re-enable", func(p *acc.Pipeline, _ *hal.Vehicle) {
			p.SetSafe(true)
			p.Enable()
		}},
	}
}

func main() {
	configPath := flag.String("config", "", "Optional configuration file (sim backend)")
	duration := flag.Duration("duration", 30*time.Second, "Scenario length")
	outDir := flag.String("out", "out", "Output directory for trace.csv and plots")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if err := run(*configPath, *duration, *outDir); err != nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse([]byte("instance_id: accsim\n"))
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Hardware.Backend != "sim" {
		return nil, fmt.Errorf("accsim requires the sim backend, got %q", cfg.Hardware.Backend)
	}
	return cfg, nil
}

func run(configPath string, duration time.Duration, outDir string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	vehicle := hal.NewVehicle(core.VehicleParams(cfg.Hardware.Simulation))
	pipeline := acc.New(core.PipelineConfig(cfg), acc.Devices{
		Sensors:  vehicle,
		Actuator: vehicle,
		Display:  hal.NewLogDisplay(slog.Default()),
		Timer:    hal.NewSoftTimer(cfg.Timing.SensingPeriod()),
	})

	recorder := trace.NewRecorder(5)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		vehicle.Run(ctx, simStep, func(st hal.VehicleState) {
			recorder.Add(trace.Point{
				T:         st.Time.Seconds(),
				Speed:     st.Speed,
				LeadSpeed: st.LeadSpeed,
				Distance:  st.Distance,
				Command:   st.Command,
				Engaged:   pipeline.State() == acc.StateOn,
			})
		})
	}()

	if err := pipeline.Start(ctx); err != nil {
		return err
	}

	start := time.Now()
	for _, s := range scenario(duration) {
		select {
		case <-ctx.Done():
		case <-time.After(time.Until(start.Add(s.at))):
			slog.Info("scenario step", "at", s.at, "step", s.name)
			s.apply(pipeline, vehicle)
		}
	}

	<-ctx.Done()
	<-simDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stats := pipeline.Stats()
	slog.Info("simulation finished",
		"transitions", stats.Transitions,
		"control_sent", stats.Control.Sent,
		"control_timeouts", stats.Control.Timeouts,
		"rollbacks", stats.Channel.Rollbacks,
		"heartbeat_misses", stats.HeartbeatMisses,
	)

	points := recorder.Points()

	f, err := os.Create(filepath.Join(outDir, "trace.csv"))
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	defer f.Close()
	if err := recorder.WriteCSV(f); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}

	if err := trace.SaveAll(points, outDir, cfg.Control.MinDistance); err != nil {
		return fmt.Errorf("failed to render plots: %w", err)
	}

	slog.Info("trace written", "dir", outDir, "points", len(points))
	return nil
}
