package rtos

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestSemaphorePostPend verifies a posted credit is consumed by one pend.
func TestSemaphorePostPend(t *testing.T) {
	sem := NewSemaphore(0, 1)

	if !sem.Post() {
		t.Fatal("first Post should succeed")
	}
	if sem.Post() {
		t.Error("Post on saturated semaphore should report false")
	}

	if err := sem.Pend(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("Pend failed: %v", err)
	}
	if err := sem.TryPend(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("Expected ErrWouldBlock, got %v", err)
	}
}

// TestSemaphorePendTimeout verifies the timeout path.
func TestSemaphorePendTimeout(t *testing.T) {
	sem := NewSemaphore(0, 1)

	start := time.Now()
	err := sem.Pend(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Pend returned too early: %v", elapsed)
	}
}

// TestSemaphorePendUntilPast verifies an available credit wins over an expired deadline.
func TestSemaphorePendUntilPast(t *testing.T) {
	sem := NewSemaphore(1, 1)
	past := time.Now().Add(-time.Second)

	if err := sem.PendUntil(context.Background(), past); err != nil {
		t.Fatalf("Expected credit to be taken, got %v", err)
	}
	if err := sem.PendUntil(context.Background(), past); !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

// TestSemaphoreContextCancel verifies cancellation unblocks a forever pend.
func TestSemaphoreContextCancel(t *testing.T) {
	sem := NewSemaphore(0, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sem.Pend(ctx, 0) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pend did not return after cancel")
	}
}

// TestSemaphoreSet verifies Set discards stale credits.
func TestSemaphoreSet(t *testing.T) {
	sem := NewSemaphore(3, 3)
	if sem.Count() != 3 {
		t.Fatalf("Expected 3 credits, got %d", sem.Count())
	}

	sem.Set(0)
	if sem.Count() != 0 {
		t.Errorf("Expected 0 credits after Set(0), got %d", sem.Count())
	}

	sem.Set(5)
	if sem.Count() != 3 {
		t.Errorf("Set beyond max should clamp to 3, got %d", sem.Count())
	}
}
