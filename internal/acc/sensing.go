package acc

import (
	"context"
	"sync/atomic"

	"github.com/e7canasta/acc-pipeline/internal/hal"
	"github.com/e7canasta/acc-pipeline/internal/params"
	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// Sensing is the producer released once per period by the timer interrupt.
type Sensing struct {
	release *rtos.Semaphore // posted by the interrupt handler
	wake    *rtos.Semaphore // control unit's per-cycle signal
	sensors hal.Sensors
	store   *params.Store

	samples atomic.Uint64
}

// Run samples once per release until ctx is done.
func (s *Sensing) Run(ctx context.Context) {
	for {
		if err := s.release.Pend(ctx, 0); err != nil {
			return
		}
		s.Sample()
	}
}

// Sample reads both sensors, publishes them to the store, then wakes control.
// The store write happens-before the wake post.
func (s *Sensing) Sample() {
	distance := s.sensors.ReadDistance()
	speed := s.sensors.ReadSpeed()

	s.store.Write(params.PushSample(distance, speed))
	s.samples.Add(1)

	s.wake.Post()
}
