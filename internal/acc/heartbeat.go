package acc

import (
	"sync/atomic"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// Heartbeat is the watchdog over the two hard tasks.
//
// Each window, both the control unit and the actuation consumer must mark a
// completed cycle. A window in which either is missing raises
// deadline-missed. Both marks are cleared after every check.
type Heartbeat struct {
	flags    *rtos.EventFlags
	periodic *rtos.Periodic

	control  atomic.Bool
	actuator atomic.Bool
	grace    atomic.Bool

	checks atomic.Uint64
	misses atomic.Uint64
}

// NewHeartbeat creates a monitor checking every period. Call Start to run it.
func NewHeartbeat(flags *rtos.EventFlags, period time.Duration) *Heartbeat {
	h := &Heartbeat{flags: flags}
	h.periodic = rtos.NewPeriodic(period, func() { h.Check() })
	return h
}

// BeatControl marks a completed control cycle.
func (h *Heartbeat) BeatControl() { h.control.Store(true) }

// BeatActuator marks a completed actuation cycle.
func (h *Heartbeat) BeatActuator() { h.actuator.Store(true) }

// Rearm makes the next check a grace window: beats are cleared but a missing
// beat does not raise. Used when the pipeline is (re)started.
func (h *Heartbeat) Rearm() {
	h.grace.Store(true)
}

// Check runs one watchdog window. Returns false if deadline-missed was raised.
func (h *Heartbeat) Check() bool {
	h.checks.Add(1)

	control := h.control.Swap(false)
	actuator := h.actuator.Swap(false)

	if h.grace.Swap(false) {
		return true
	}

	if !(control && actuator) {
		h.misses.Add(1)
		h.flags.Set(FlagDeadlineMissed)
		return false
	}
	return true
}

// Start begins periodic checking.
func (h *Heartbeat) Start() { h.periodic.Enable() }

// Stop halts periodic checking.
func (h *Heartbeat) Stop() { h.periodic.Disable() }

// Counts returns the number of windows checked and missed.
func (h *Heartbeat) Counts() (checks, misses uint64) {
	return h.checks.Load(), h.misses.Load()
}
