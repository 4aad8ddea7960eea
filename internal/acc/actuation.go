package acc

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/acc-pipeline/internal/flow"
	"github.com/e7canasta/acc-pipeline/internal/hal"
	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// Actuation drains the channel and drives the actuator.
type Actuation struct {
	channel  *flow.Channel
	flags    *rtos.EventFlags
	actuator hal.Actuator
	beat     *Heartbeat

	mu sync.Mutex // orders gate check + Apply against Neutralize

	applied     atomic.Uint64
	neutralized atomic.Uint64
	lastOutput  atomic.Uint64 // math.Float64bits
}

// Run consumes commands until ctx is done.
func (a *Actuation) Run(ctx context.Context) {
	for {
		cmd, err := a.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		a.Handle(cmd)
	}
}

// Handle applies one received command, or the neutral output when the gate
// is closed, and returns the value written to the actuator.
func (a *Actuation) Handle(cmd flow.Command) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := hal.Neutral
	if a.flags.AcceptAll(flagsGate) {
		out = cmd.Value
		a.applied.Add(1)
	} else {
		a.neutralized.Add(1)
	}

	a.actuator.Apply(out)
	a.lastOutput.Store(math.Float64bits(out))
	a.beat.BeatActuator()
	return out
}

// Neutralize applies the neutral output outside the consume loop.
func (a *Actuation) Neutralize() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.actuator.Apply(hal.Neutral)
	a.lastOutput.Store(math.Float64bits(hal.Neutral))
}
