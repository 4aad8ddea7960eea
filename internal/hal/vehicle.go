package hal

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
)

// VehicleParams seeds a simulated ego vehicle following a lead vehicle.
// Speeds are in km/h, distances in metres, accelerations in m/s².
type VehicleParams struct {
	InitialSpeed    float64
	InitialDistance float64
	LeadSpeed       float64
	MaxAccel        float64
	MaxDecel        float64 // positive magnitude
	Gain            float64 // command → acceleration
}

// VehicleState is a point-in-time view of the simulation.
type VehicleState struct {
	Time      time.Duration // simulated time since start
	Speed     float64
	LeadSpeed float64
	Distance  float64
	Command   float64
	Accel     float64
}

// Vehicle simulates the ego vehicle and the gap to a lead vehicle.
// It implements Sensors and Actuator.
type Vehicle struct {
	params VehicleParams

	mu      sync.Mutex
	state   VehicleState
	applied uint64
}

// NewVehicle creates a simulation at rest at the initial conditions.
func NewVehicle(p VehicleParams) *Vehicle {
	return &Vehicle{
		params: p,
		state: VehicleState{
			Speed:     p.InitialSpeed,
			LeadSpeed: p.LeadSpeed,
			Distance:  p.InitialDistance,
		},
	}
}

// ReadDistance returns the current gap to the lead vehicle.
func (v *Vehicle) ReadDistance() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Distance
}

// ReadSpeed returns the current ego speed.
func (v *Vehicle) ReadSpeed() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Speed
}

// Apply latches the command used by subsequent steps.
func (v *Vehicle) Apply(command float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Command = command
	v.applied++
}

// SetLeadSpeed changes the lead vehicle speed (scenario scripting).
func (v *Vehicle) SetLeadSpeed(speed float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.LeadSpeed = lo.Max([]float64{speed, 0})
}

// State returns a copy of the simulation state.
func (v *Vehicle) State() VehicleState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Applied returns how many commands have been applied.
func (v *Vehicle) Applied() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.applied
}

// Step advances the simulation by dt with the latched command.
func (v *Vehicle) Step(dt time.Duration) VehicleState {
	v.mu.Lock()
	defer v.mu.Unlock()

	sec := dt.Seconds()
	s := &v.state

	s.Accel = lo.Clamp(s.Command*v.params.Gain, -v.params.MaxDecel, v.params.MaxAccel)
	s.Speed = lo.Max([]float64{s.Speed + s.Accel*sec*3.6, 0})
	s.Distance = lo.Max([]float64{s.Distance + (s.LeadSpeed-s.Speed)/3.6*sec, 0})
	s.Time += dt

	return *s
}

// Run steps the simulation every dt until ctx is done.
// onStep, if non-nil, receives every new state.
func (v *Vehicle) Run(ctx context.Context, dt time.Duration, onStep func(VehicleState)) {
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := v.Step(dt)
			if onStep != nil {
				onStep(st)
			}
		}
	}
}
