package acc

import (
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/params"
)

// fakeSensors returns fixed samples.
type fakeSensors struct {
	mu       sync.Mutex
	distance float64
	speed    float64
}

func (f *fakeSensors) ReadDistance() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.distance
}

func (f *fakeSensors) ReadSpeed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

// fakeActuator records every applied output.
type fakeActuator struct {
	mu      sync.Mutex
	outputs []float64
}

func (f *fakeActuator) Apply(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = append(f.outputs, v)
}

func (f *fakeActuator) last() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outputs) == 0 {
		return 0, false
	}
	return f.outputs[len(f.outputs)-1], true
}

func (f *fakeActuator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outputs)
}

// fakeDisplay counts renders.
type fakeDisplay struct {
	mu      sync.Mutex
	renders int
	status  bool
}

func (f *fakeDisplay) ShowDistance(float64) {}
func (f *fakeDisplay) ShowSpeed(float64)    {}
func (f *fakeDisplay) ShowStatus(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	f.status = enabled
}

// manualTimer is a timer fired by the test.
type manualTimer struct {
	mu      sync.Mutex
	isr     func()
	enabled bool
	acks    int
}

func (m *manualTimer) Attach(isr func()) { m.isr = isr }

func (m *manualTimer) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

func (m *manualTimer) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

func (m *manualTimer) ClearFlag() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
}

func (m *manualTimer) isEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *manualTimer) fire() { m.isr() }

// recordingObserver collects notifications.
type recordingObserver struct {
	mu          sync.Mutex
	snapshots   int
	transitions []Transition
}

func (r *recordingObserver) OnSnapshot(params.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
}

func (r *recordingObserver) OnTransition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recordingObserver) lastTransition() (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transitions) == 0 {
		return Transition{}, false
	}
	return r.transitions[len(r.transitions)-1], true
}

// scenarioRecord is the reference scenario: gap 60, speeds 90/88/85.
func scenarioRecord() params.Record {
	return params.Record{
		K1: 1.0, K2: 0.5, K3: 0.25,
		CruiseSpeed: 100,
		TargetSpeed: 100,
		MinDistance: 50,
		SpeedStep:   5,
		Distance:    60,
		Speed:       90,
		Speed1:      88,
		Speed2:      85,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// newManualPipeline builds a stopped pipeline on fakes with a manual timer.
func newManualPipeline() (*Pipeline, *manualTimer, *fakeActuator) {
	timer := &manualTimer{}
	act := &fakeActuator{}
	cfg := DefaultConfig()
	cfg.Defaults = scenarioRecord()

	p := New(cfg, Devices{
		Sensors:  &fakeSensors{distance: 60, speed: 90},
		Actuator: act,
		Display:  &fakeDisplay{},
		Timer:    timer,
	})
	return p, timer, act
}
