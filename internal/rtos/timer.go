package rtos

import (
	"sync"
	"time"
)

// Periodic invokes a callback on a fixed period while enabled.
//
// Lifecycle:
//  1. p := NewPeriodic(period, fn)
//  2. p.Enable()   // spawns the tick goroutine
//  3. p.Disable()  // stops it and waits for the last callback to return
//
// Enable and Disable are idempotent and safe for concurrent use. The callback
// runs on the tick goroutine and must not block.
type Periodic struct {
	period time.Duration
	fn     func()

	// fireOnEnable runs the callback immediately on Enable, then every period.
	fireOnEnable bool

	mu      sync.Mutex
	enabled bool
	stop    chan struct{}
	done    chan struct{} // closed when the current run's goroutine exits
}

// NewPeriodic creates a disabled periodic timer.
func NewPeriodic(period time.Duration, fn func()) *Periodic {
	return &Periodic{period: period, fn: fn}
}

// FireOnEnable makes Enable deliver the first callback immediately.
func (p *Periodic) FireOnEnable() *Periodic {
	p.fireOnEnable = true
	return p
}

// Period returns the configured period.
func (p *Periodic) Period() time.Duration { return p.period }

// Enable starts the timer (no-op if already enabled).
func (p *Periodic) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enabled {
		return
	}
	p.enabled = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(p.stop, p.done)
}

// Disable stops the timer and waits for the tick goroutine it stopped to
// exit. No callback of that run executes after Disable returns; an Enable
// racing with Disable starts a new run that Disable does not wait for.
func (p *Periodic) Disable() {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return
	}
	p.enabled = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done
}

// Enabled reports whether the timer is running.
func (p *Periodic) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Periodic) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	if p.fireOnEnable {
		p.fn()
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Stop wins over a tick that raced with it.
			select {
			case <-stop:
				return
			default:
			}
			p.fn()
		}
	}
}
