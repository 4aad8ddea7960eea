package rtos

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestPeriodicFires verifies ticks while enabled and silence after Disable.
func TestPeriodicFires(t *testing.T) {
	var ticks atomic.Int32
	p := NewPeriodic(10*time.Millisecond, func() { ticks.Add(1) })

	p.Enable()
	p.Enable() // idempotent
	if !p.Enabled() {
		t.Fatal("Expected timer enabled")
	}

	time.Sleep(55 * time.Millisecond)
	p.Disable()
	p.Disable() // idempotent

	n := ticks.Load()
	if n < 2 {
		t.Errorf("Expected at least 2 ticks, got %d", n)
	}

	time.Sleep(30 * time.Millisecond)
	if ticks.Load() != n {
		t.Errorf("Ticks after Disable: before=%d after=%d", n, ticks.Load())
	}
}

// TestPeriodicFireOnEnable verifies the immediate first callback.
func TestPeriodicFireOnEnable(t *testing.T) {
	fired := make(chan struct{}, 1)
	p := NewPeriodic(time.Hour, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}).FireOnEnable()

	p.Enable()
	defer p.Disable()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Expected immediate callback on Enable")
	}
}

// TestPeriodicDisableWithConcurrentEnable verifies that a Disable waits only
// for the run it stopped, not for a run started while it was waiting.
func TestPeriodicDisableWithConcurrentEnable(t *testing.T) {
	p := NewPeriodic(time.Hour, func() {
		time.Sleep(30 * time.Millisecond)
	}).FireOnEnable()

	p.Enable()
	time.Sleep(5 * time.Millisecond) // first callback in progress

	disabled := make(chan struct{})
	go func() {
		p.Disable()
		close(disabled)
	}()

	time.Sleep(5 * time.Millisecond)
	p.Enable() // new run, its first callback also sleeps

	select {
	case <-disabled:
	case <-time.After(time.Second):
		t.Fatalf("Disable blocked by a later run; enabled=%v", p.Enabled())
	}

	p.Disable()
	if p.Enabled() {
		t.Error("Expected timer disabled")
	}
}
