package rtos

import (
	"context"
	"sync"
)

// Flags is a bit set of event flags.
type Flags uint32

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether at least one bit of mask is set.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

// EventFlags is an event-flag group.
//
// Bits are sticky: they stay set until explicitly cleared. Waiters are woken
// by closing a broadcast channel whenever the value changes, so a blocking
// wait composes with context cancellation.
type EventFlags struct {
	mu      sync.Mutex
	flags   Flags
	changed chan struct{} // closed and replaced on every change
}

// NewEventFlags creates a group with the given initial bits.
func NewEventFlags(initial Flags) *EventFlags {
	return &EventFlags{
		flags:   initial,
		changed: make(chan struct{}),
	}
}

// Set sets the bits in mask.
func (g *EventFlags) Set(mask Flags) {
	g.update(func(f Flags) Flags { return f | mask })
}

// Clear clears the bits in mask.
func (g *EventFlags) Clear(mask Flags) {
	g.update(func(f Flags) Flags { return f &^ mask })
}

// Apply sets and clears bits in one atomic step (set wins over clear).
func (g *EventFlags) Apply(set, clear Flags) {
	g.update(func(f Flags) Flags { return (f &^ clear) | set })
}

func (g *EventFlags) update(fn func(Flags) Flags) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := fn(g.flags)
	if next == g.flags {
		return
	}
	g.flags = next

	close(g.changed)
	g.changed = make(chan struct{})
}

// Load returns the current bits (snapshot).
func (g *EventFlags) Load() Flags {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flags
}

// AcceptAll is the non-blocking all-of check: true iff every bit in mask is set.
// Bits are not consumed.
func (g *EventFlags) AcceptAll(mask Flags) bool {
	return g.Load().Has(mask)
}

// PendAny blocks until at least one bit of mask is set and returns the bits of
// mask that are set. Bits are not consumed.
func (g *EventFlags) PendAny(ctx context.Context, mask Flags) (Flags, error) {
	for {
		g.mu.Lock()
		current := g.flags & mask
		changed := g.changed
		g.mu.Unlock()

		if current != 0 {
			return current, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
