package rtos

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when a pend expires before the semaphore is posted.
	ErrTimeout = errors.New("rtos: pend timeout")

	// ErrWouldBlock is returned by non-blocking operations that cannot proceed.
	ErrWouldBlock = errors.New("rtos: would block")
)

// Semaphore is a counting semaphore bounded to a maximum count.
//
// Post never blocks, so it is safe to call from a timer callback (the software
// equivalent of an interrupt handler). Posts beyond the maximum count are
// discarded and reported through the return value.
type Semaphore struct {
	mu     sync.Mutex // serializes Post against Set
	tokens chan struct{}
}

// NewSemaphore creates a semaphore holding initial credits out of max.
func NewSemaphore(initial, max int) *Semaphore {
	if max < 1 {
		max = 1
	}
	if initial > max {
		initial = max
	}

	s := &Semaphore{tokens: make(chan struct{}, max)}
	for i := 0; i < initial; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// Post adds one credit. Returns false if the semaphore was saturated.
func (s *Semaphore) Post() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.tokens <- struct{}{}:
		return true
	default:
		return false
	}
}

// Pend takes one credit, blocking up to timeout. A timeout <= 0 waits forever.
//
// Returns ErrTimeout on expiry or ctx.Err() on cancellation.
func (s *Semaphore) Pend(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case <-s.tokens:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.PendUntil(ctx, time.Now().Add(timeout))
}

// PendUntil takes one credit, blocking until the absolute deadline.
func (s *Semaphore) PendUntil(ctx context.Context, deadline time.Time) error {
	// A credit already available wins over an expired deadline.
	select {
	case <-s.tokens:
		return nil
	default:
	}

	wait := time.Until(deadline)
	if wait <= 0 {
		return ErrTimeout
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-s.tokens:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPend takes one credit without blocking.
func (s *Semaphore) TryPend() error {
	select {
	case <-s.tokens:
		return nil
	default:
		return ErrWouldBlock
	}
}

// Set discards all pending credits and sets the count to n.
func (s *Semaphore) Set(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case <-s.tokens:
			continue
		default:
		}
		break
	}

	for i := 0; i < n && i < cap(s.tokens); i++ {
		s.tokens <- struct{}{}
	}
}

// Count returns the number of pending credits (snapshot).
func (s *Semaphore) Count() int {
	return len(s.tokens)
}
