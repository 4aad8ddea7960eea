// Package rtos provides the small set of real-time runtime primitives the ACC
// pipeline is written against: a counting semaphore with timeout and reset, an
// event-flag group with non-blocking all-of checks and blocking any-of waits,
// and a periodic callback timer.
//
// Go's scheduler supplies preemption; these types supply the blocking contracts.
// They are deliberately thin and carry no task priorities.
//
// Usage:
//
//	release := rtos.NewSemaphore(0, 255)
//	flags := rtos.NewEventFlags(0)
//
//	tmr := rtos.NewPeriodic(50*time.Millisecond, func() { release.Post() })
//	tmr.Enable()
//	defer tmr.Disable()
//
//	if err := release.Pend(ctx, 45*time.Millisecond); errors.Is(err, rtos.ErrTimeout) {
//	    flags.Set(deadlineMissed)
//	}
package rtos
