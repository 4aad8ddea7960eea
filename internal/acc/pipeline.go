package acc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/flow"
	"github.com/e7canasta/acc-pipeline/internal/hal"
	"github.com/e7canasta/acc-pipeline/internal/params"
	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

var (
	// ErrAlreadyRunning is returned by Start on a running pipeline.
	ErrAlreadyRunning = errors.New("acc: pipeline already running")

	// ErrInvalidParameter is returned for a rejected gain or setpoint update.
	ErrInvalidParameter = errors.New("acc: invalid parameter")
)

const (
	releaseDepth = 8 // pending timer releases before posts are dropped
	wakeDepth    = 2
)

// Config sizes and seeds the pipeline.
type Config struct {
	SensingPeriod   time.Duration
	ControlTimeout  time.Duration // must be < SensingPeriod
	DisplayPeriod   time.Duration
	HeartbeatPeriod time.Duration
	Capacity        int

	// Defaults seeds the store at startup (gains, cruise speed, minimum
	// distance, speed step).
	Defaults params.Record

	// SafeAtStart sets safe-to-actuate before the first enable.
	SafeAtStart bool
}

// DefaultConfig returns the reference sizing.
func DefaultConfig() Config {
	return Config{
		SensingPeriod:   50 * time.Millisecond,
		ControlTimeout:  45 * time.Millisecond,
		DisplayPeriod:   2 * time.Second,
		HeartbeatPeriod: 100 * time.Millisecond,
		Capacity:        flow.DefaultCapacity,
		Defaults: params.Record{
			K1:          1.0,
			K2:          0.5,
			K3:          0.25,
			CruiseSpeed: 100,
			MinDistance: 50,
			SpeedStep:   5,
		},
		SafeAtStart: true,
	}
}

// Devices is the hardware the pipeline runs on.
type Devices struct {
	Sensors  hal.Sensors
	Actuator hal.Actuator
	Display  hal.Display
	Timer    hal.Timer
}

// Observer receives pipeline notifications. Callbacks run on pipeline
// goroutines and must not block.
type Observer interface {
	OnSnapshot(rec params.Record)
	OnTransition(t Transition)
}

// Pipeline wires sensing, control, actuation, display, supervisor and
// heartbeat around one store, one channel and one set of event flags.
type Pipeline struct {
	cfg Config

	flags   *rtos.EventFlags
	store   *params.Store
	release *rtos.Semaphore
	wake    *rtos.Semaphore
	channel *flow.Channel
	timer   hal.Timer

	sensing    *Sensing
	control    *Control
	actuation  *Actuation
	display    *DisplayReader
	supervisor *Supervisor
	heartbeat  *Heartbeat

	mu        sync.RWMutex
	observers []Observer
	running   bool
	started   time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a stopped pipeline.
func New(cfg Config, dev Devices) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		flags:   rtos.NewEventFlags(0),
		store:   params.New(params.Record{}),
		release: rtos.NewSemaphore(0, releaseDepth),
		wake:    rtos.NewSemaphore(0, wakeDepth),
		channel: flow.New(cfg.Capacity),
		timer:   dev.Timer,
	}

	p.heartbeat = NewHeartbeat(p.flags, cfg.HeartbeatPeriod)

	p.sensing = &Sensing{
		release: p.release,
		wake:    p.wake,
		sensors: dev.Sensors,
		store:   p.store,
	}
	p.control = &Control{
		wake:    p.wake,
		flags:   p.flags,
		store:   p.store,
		channel: p.channel,
		beat:    p.heartbeat,
		period:  cfg.SensingPeriod,
		timeout: cfg.ControlTimeout,
	}
	p.actuation = &Actuation{
		channel:  p.channel,
		flags:    p.flags,
		actuator: dev.Actuator,
		beat:     p.heartbeat,
	}
	p.display = &DisplayReader{
		store:   p.store,
		display: dev.Display,
		period:  cfg.DisplayPeriod,
		notify:  p.notifySnapshot,
	}
	p.supervisor = &Supervisor{
		flags:      p.flags,
		store:      p.store,
		release:    p.release,
		timer:      dev.Timer,
		channel:    p.channel,
		beat:       p.heartbeat,
		neutralize: p.actuation.Neutralize,
		notify:     p.notifyTransition,
	}

	// Interrupt handler: acknowledge and release sensing, nothing else.
	dev.Timer.Attach(func() {
		dev.Timer.ClearFlag()
		p.release.Post()
	})

	p.supervisor.Init(cfg.Defaults)
	if cfg.SafeAtStart {
		p.flags.Set(FlagSafeToActuate)
	}

	return p
}

// AddObserver registers o for snapshot and transition notifications.
func (p *Pipeline) AddObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

func (p *Pipeline) notifySnapshot(rec params.Record) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, o := range p.observers {
		o.OnSnapshot(rec)
	}
}

func (p *Pipeline) notifyTransition(t Transition) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, o := range p.observers {
		o.OnTransition(t)
	}
}

// Start launches every task. The pipeline starts OFF; call Enable to engage.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	tasks := []func(context.Context){
		p.supervisor.Run,
		p.sensing.Run,
		p.control.Run,
		p.actuation.Run,
		p.display.Run,
	}
	for _, task := range tasks {
		p.wg.Add(1)
		go func(run func(context.Context)) {
			defer p.wg.Done()
			run(ctx)
		}(task)
	}

	p.heartbeat.Start()

	slog.Info("acc pipeline started",
		"sensing_period", p.cfg.SensingPeriod,
		"control_timeout", p.cfg.ControlTimeout,
		"heartbeat_period", p.cfg.HeartbeatPeriod,
		"capacity", p.channel.Capacity(),
	)
	return nil
}

// Shutdown stops every task and leaves the actuator neutral.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.mu.Unlock()

	p.timer.Disable()
	p.heartbeat.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("acc: shutdown: %w", ctx.Err())
	}

	p.timer.Disable() // supervisor may have raced an enable
	drained := p.channel.Drain()
	p.actuation.Neutralize()

	p.mu.Lock()
	uptime := time.Since(p.started)
	p.running = false
	p.mu.Unlock()

	slog.Info("acc pipeline stopped", "uptime", uptime, "drained", drained)
	return err
}

// Enable requests engagement.
func (p *Pipeline) Enable() {
	p.flags.Apply(FlagEnabled, FlagDisabled)
}

// Disable requests disengagement.
func (p *Pipeline) Disable() {
	p.flags.Apply(FlagDisabled, FlagEnabled)
}

// SetSafe drives the external safe-to-actuate input.
func (p *Pipeline) SetSafe(safe bool) {
	if safe {
		p.flags.Set(FlagSafeToActuate)
	} else {
		p.flags.Clear(FlagSafeToActuate)
	}
}

// RaiseFault signals a detected fault; the supervisor goes OFF.
func (p *Pipeline) RaiseFault() {
	p.flags.Set(FlagFaultDetected)
}

// ClearFault acknowledges the fault. The pipeline stays OFF until enabled.
func (p *Pipeline) ClearFault() {
	p.flags.Clear(FlagFaultDetected)
}

// SetGains updates the controller gains in the store.
func (p *Pipeline) SetGains(k1, k2, k3 float64) error {
	for _, k := range []float64{k1, k2, k3} {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return fmt.Errorf("%w: gain %v", ErrInvalidParameter, k)
		}
	}

	p.store.Write(func(r *params.Record) {
		r.K1, r.K2, r.K3 = k1, k2, k3
	})
	slog.Info("acc gains updated", "k1", k1, "k2", k2, "k3", k3)
	return nil
}

// SetCruise updates the cruise speed setpoint.
func (p *Pipeline) SetCruise(speed float64) error {
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return fmt.Errorf("%w: cruise speed %v", ErrInvalidParameter, speed)
	}

	p.store.Write(func(r *params.Record) {
		r.CruiseSpeed = speed
	})
	slog.Info("acc cruise speed updated", "cruise_speed", speed)
	return nil
}

// State returns the supervisor state.
func (p *Pipeline) State() State { return p.supervisor.State() }

// Flags returns the current event flags.
func (p *Pipeline) Flags() rtos.Flags { return p.flags.Load() }

// Snapshot returns one store snapshot.
func (p *Pipeline) Snapshot() params.Snapshot { return p.store.Snapshot() }

// Running reports whether the tasks are running.
func (p *Pipeline) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}
