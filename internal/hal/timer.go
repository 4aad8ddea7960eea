package hal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// SoftTimer is a Timer driven by a goroutine ticker.
//
// Like a hardware compare timer with a pending flag, the first interrupt is
// delivered as soon as the timer is enabled, then once per period.
type SoftTimer struct {
	period time.Duration

	mu       sync.Mutex
	isr      func()
	periodic *rtos.Periodic

	fired atomic.Uint64
	acks  atomic.Uint64
}

// NewSoftTimer creates a disabled timer with the given period.
func NewSoftTimer(period time.Duration) *SoftTimer {
	t := &SoftTimer{period: period}
	t.periodic = rtos.NewPeriodic(period, t.fire).FireOnEnable()
	return t
}

// Attach installs the interrupt handler. Call before Enable.
func (t *SoftTimer) Attach(isr func()) {
	t.mu.Lock()
	t.isr = isr
	t.mu.Unlock()
}

// Enable starts delivering interrupts.
func (t *SoftTimer) Enable() { t.periodic.Enable() }

// Disable stops delivering interrupts. No handler runs after it returns.
func (t *SoftTimer) Disable() { t.periodic.Disable() }

// ClearFlag acknowledges the pending interrupt.
func (t *SoftTimer) ClearFlag() { t.acks.Add(1) }

// Enabled reports whether interrupts are being delivered.
func (t *SoftTimer) Enabled() bool { return t.periodic.Enabled() }

// Fired returns the number of interrupts delivered so far.
func (t *SoftTimer) Fired() uint64 { return t.fired.Load() }

func (t *SoftTimer) fire() {
	t.mu.Lock()
	isr := t.isr
	t.mu.Unlock()

	t.fired.Add(1)
	if isr != nil {
		isr()
	}
}
