package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/acc"
	"github.com/e7canasta/acc-pipeline/internal/config"
	"github.com/e7canasta/acc-pipeline/internal/control"
	"github.com/e7canasta/acc-pipeline/internal/emitter"
	"github.com/e7canasta/acc-pipeline/internal/hal"
	"github.com/e7canasta/acc-pipeline/internal/metrics"
	"github.com/e7canasta/acc-pipeline/internal/params"
)

const (
	statsInterval  = 10 * time.Second
	healthInterval = 5 * time.Second
)

// healthPublisher sends health reports on the health topic.
type healthPublisher interface {
	PublishHealth(payload []byte) error
}

// Unit is the ACC service orchestrator
type Unit struct {
	cfg *config.Config

	// Core components
	pipeline       *acc.Pipeline
	timer          *hal.SoftTimer
	vehicle        *hal.Vehicle    // sim backend only
	serial         *hal.SerialLink // serial backend only
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	health         *metrics.Server
	healthOut      healthPublisher // nil without a broker

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // For MQTT shutdown command
}

// NewUnitFromFile loads configuration and builds the unit
func NewUnitFromFile(configPath string) (*Unit, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"backend", cfg.Hardware.Backend,
	)

	return NewUnit(cfg)
}

// NewUnit builds the unit from a validated configuration
func NewUnit(cfg *config.Config) (*Unit, error) {
	u := &Unit{
		cfg:   cfg,
		timer: hal.NewSoftTimer(cfg.Timing.SensingPeriod()),
	}

	var (
		sensors  hal.Sensors
		actuator hal.Actuator
	)

	switch cfg.Hardware.Backend {
	case "serial":
		link, err := hal.OpenSerial(cfg.Hardware.Serial.Port, cfg.Hardware.Serial.BaudRate)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize hardware: %w", err)
		}
		u.serial = link
		sensors, actuator = link, link

		slog.Info("using serial hardware link",
			"port", cfg.Hardware.Serial.Port,
			"baud_rate", cfg.Hardware.Serial.BaudRate,
		)
	default:
		u.vehicle = hal.NewVehicle(VehicleParams(cfg.Hardware.Simulation))
		sensors, actuator = u.vehicle, u.vehicle

		slog.Info("using simulated vehicle",
			"initial_speed", cfg.Hardware.Simulation.InitialSpeed,
			"lead_speed", cfg.Hardware.Simulation.LeadSpeed,
		)
	}

	u.pipeline = acc.New(PipelineConfig(cfg), acc.Devices{
		Sensors:  sensors,
		Actuator: actuator,
		Display:  hal.NewLogDisplay(slog.Default()),
		Timer:    u.timer,
	})

	if cfg.MQTT.Broker != "" {
		u.emitter = emitter.NewMQTTEmitter(cfg)
		u.pipeline.AddObserver(u.emitter)
		u.healthOut = u.emitter
	}

	u.health = metrics.NewServer(cfg.HTTP.Addr, u.pipeline, metrics.Options{
		InstanceID:    cfg.InstanceID,
		MQTTConnected: u.mqttConnected(),
		Status:        u.getStatus,
	})

	return u, nil
}

// PipelineConfig maps the file configuration onto the pipeline sizing
func PipelineConfig(cfg *config.Config) acc.Config {
	return acc.Config{
		SensingPeriod:   cfg.Timing.SensingPeriod(),
		ControlTimeout:  cfg.Timing.ControlTimeout(),
		DisplayPeriod:   cfg.Timing.DisplayPeriod(),
		HeartbeatPeriod: cfg.Timing.HeartbeatPeriod(),
		Capacity:        cfg.Channel.Capacity,
		Defaults: params.Record{
			K1:          cfg.Control.K1,
			K2:          cfg.Control.K2,
			K3:          cfg.Control.K3,
			CruiseSpeed: cfg.Control.CruiseSpeed,
			MinDistance: cfg.Control.MinDistance,
			SpeedStep:   cfg.Control.SpeedStep,
		},
		SafeAtStart: cfg.Control.SafeAtStart != nil && *cfg.Control.SafeAtStart,
	}
}

// VehicleParams maps the simulation configuration onto the vehicle model
func VehicleParams(sim config.VehicleConfig) hal.VehicleParams {
	return hal.VehicleParams{
		InitialSpeed:    sim.InitialSpeed,
		InitialDistance: sim.InitialDistance,
		LeadSpeed:       sim.LeadSpeed,
		MaxAccel:        sim.MaxAccel,
		MaxDecel:        sim.MaxDecel,
		Gain:            sim.Gain,
	}
}

func (u *Unit) mqttConnected() func() bool {
	if u.emitter == nil {
		return nil
	}
	return func() bool { return u.emitter.Stats().Connected }
}

// Pipeline returns the control pipeline
func (u *Unit) Pipeline() *acc.Pipeline { return u.pipeline }

// ShutdownTimeout returns the configured graceful shutdown timeout
func (u *Unit) ShutdownTimeout() time.Duration { return u.cfg.ShutdownTimeout() }

// StartHealthServer starts the HTTP health/metrics server (non-blocking)
func (u *Unit) StartHealthServer() error {
	return u.health.Start()
}

// Run starts the unit and blocks until context is cancelled
func (u *Unit) Run(ctx context.Context) error {
	u.mu.Lock()
	if u.isRunning {
		u.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	u.isRunning = true
	u.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	u.cancelCtx = cancel
	u.mu.Unlock()

	slog.Info("acc unit starting", "instance_id", u.cfg.InstanceID)

	// Hardware first: sensors must be live before the first release
	if u.vehicle != nil {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			u.vehicle.Run(ctx, 10*time.Millisecond, nil)
		}()
	}
	if u.serial != nil {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			if err := u.serial.Run(ctx); err != nil {
				slog.Error("serial link failed, raising fault", "error", err)
				u.pipeline.RaiseFault()
			}
		}()
	}

	if err := u.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	if u.emitter != nil {
		if err := u.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		u.emitter.Start(ctx)

		u.controlHandler = control.NewHandler(u.cfg, u.emitter.Client, control.CommandCallbacks{
			OnGetStatus:  u.getStatus,
			OnEnable:     u.enable,
			OnDisable:    u.disable,
			OnSetSafe:    u.setSafe,
			OnRaiseFault: u.raiseFault,
			OnClearFault: u.clearFault,
			OnSetGains:   u.pipeline.SetGains,
			OnSetCruise:  u.pipeline.SetCruise,
			OnShutdown:   u.shutdownViaControl,
		})
		if err := u.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	} else {
		slog.Info("mqtt disabled (no broker configured)")
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.logStats(ctx, statsInterval)
	}()

	if u.healthOut != nil {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			u.reportHealth(ctx, healthInterval)
		}()
	}

	slog.Info("acc unit running", "state", u.pipeline.State().String())

	<-ctx.Done()

	slog.Info("acc unit run loop exiting")
	return nil
}

// Shutdown performs graceful shutdown of all components
func (u *Unit) Shutdown(ctx context.Context) error {
	u.mu.Lock()
	if !u.isRunning {
		u.mu.Unlock()
		return nil
	}
	cancel := u.cancelCtx
	u.mu.Unlock()

	slog.Info("shutting down acc unit")

	// 1. Stop the control plane: no more commands
	if u.controlHandler != nil {
		if err := u.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 2. Stop the pipeline: timer off, tasks joined, actuator neutral
	if err := u.pipeline.Shutdown(ctx); err != nil {
		slog.Error("failed to stop pipeline", "error", err)
	}

	// 3. Stop hardware and helper goroutines
	if cancel != nil {
		cancel()
	}
	u.wg.Wait()

	// 4. Disconnect MQTT
	if u.emitter != nil {
		if err := u.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	// 5. Health server last, so readiness reflects the shutdown
	if err := u.health.Shutdown(ctx); err != nil {
		slog.Error("failed to stop health server", "error", err)
	}

	u.mu.Lock()
	uptime := time.Since(u.started)
	u.isRunning = false
	u.mu.Unlock()

	slog.Info("acc unit shutdown complete", "uptime", uptime)
	return nil
}

// logStats periodically logs pipeline counters
func (u *Unit) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := u.pipeline.Stats()
			slog.Info("acc stats",
				"state", s.State,
				"flags", s.FlagNames,
				"control_sent", s.Control.Sent,
				"control_timeouts", s.Control.Timeouts,
				"control_stale", s.Control.Stale,
				"rollbacks", s.Channel.Rollbacks,
				"tokens_available", s.Channel.TokensAvailable,
				"heartbeat_misses", s.HeartbeatMisses,
			)
		}
	}
}

// reportHealth publishes the health check on the health topic every interval
func (u *Unit) reportHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.publishHealth(); err != nil {
				slog.Debug("health publish skipped", "error", err)
			}
		}
	}
}

// publishHealth sends one health report
func (u *Unit) publishHealth() error {
	if u.healthOut == nil {
		return nil
	}

	payload, err := json.Marshal(u.health.HealthCheck())
	if err != nil {
		return fmt.Errorf("failed to encode health: %w", err)
	}
	return u.healthOut.PublishHealth(payload)
}
