package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func checkConservation(t *testing.T, c *Channel) {
	t.Helper()
	s := c.Stats()
	if s.TokensAvailable+s.TokensOutstanding != s.Capacity {
		t.Errorf("Token conservation broken: available=%d outstanding=%d capacity=%d",
			s.TokensAvailable, s.TokensOutstanding, s.Capacity)
	}
	if s.BuffersFree+s.BuffersCheckedOut != s.Capacity {
		t.Errorf("Buffer conservation broken: free=%d checked_out=%d capacity=%d",
			s.BuffersFree, s.BuffersCheckedOut, s.Capacity)
	}
	if s.BuffersCheckedOut > s.Capacity {
		t.Errorf("More buffers checked out than capacity: %d", s.BuffersCheckedOut)
	}
}

// TestSendReceive verifies FIFO transfer and resource recovery.
func TestSendReceive(t *testing.T) {
	c := New(3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := c.Send(ctx, Command{Value: float64(i), Seq: uint64(i)}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	s := c.Stats()
	if s.TokensAvailable != 0 || s.Queued != 3 {
		t.Errorf("Expected 0 tokens and 3 queued, got %+v", s)
	}
	checkConservation(t, c)

	for i := 1; i <= 3; i++ {
		cmd, err := c.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive %d failed: %v", i, err)
		}
		if cmd.Seq != uint64(i) {
			t.Errorf("Expected seq %d, got %d", i, cmd.Seq)
		}
	}

	s = c.Stats()
	if s.TokensAvailable != 3 || s.BuffersFree != 3 || s.Queued != 0 {
		t.Errorf("Expected full recovery, got %+v", s)
	}
	if s.Sent != 3 || s.Received != 3 {
		t.Errorf("Expected 3 sent/3 received, got %d/%d", s.Sent, s.Received)
	}
	checkConservation(t, c)
}

// TestSendBlocksOnTokens verifies the producer blocks when N commands are unconsumed.
func TestSendBlocksOnTokens(t *testing.T) {
	c := New(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Send(ctx, Command{Value: 1}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	err := c.Send(tctx, Command{Value: 4})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected 4th Send to block until deadline, got %v", err)
	}
	checkConservation(t, c)
}

// TestRollbackOnPoolEmpty verifies the token is released when no buffer is free.
func TestRollbackOnPoolEmpty(t *testing.T) {
	c := New(3)

	// Hold every buffer outside the protocol
	var held []*Buffer
	for i := 0; i < 3; i++ {
		b, err := c.Checkout()
		if err != nil {
			t.Fatalf("Checkout failed: %v", err)
		}
		held = append(held, b)
	}

	err := c.Send(context.Background(), Command{Value: 1})
	if !errors.Is(err, ErrPoolEmpty) {
		t.Fatalf("Expected ErrPoolEmpty, got %v", err)
	}

	s := c.Stats()
	if s.TokensAvailable != 3 {
		t.Errorf("Token not released on rollback: available=%d", s.TokensAvailable)
	}
	if s.Rollbacks != 1 || s.PoolEmpty != 1 {
		t.Errorf("Expected 1 rollback/pool-empty, got %d/%d", s.Rollbacks, s.PoolEmpty)
	}

	for _, b := range held {
		if err := c.Return(b); err != nil {
			t.Fatalf("Return failed: %v", err)
		}
	}
	checkConservation(t, c)
}

// TestRollbackOnQueueFull verifies buffer and token are both given back.
func TestRollbackOnQueueFull(t *testing.T) {
	c := New(3)

	// Occupy every queue slot with foreign buffers
	for i := 0; i < 3; i++ {
		c.queue <- &Buffer{}
	}

	err := c.Send(context.Background(), Command{Value: 1})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}

	s := c.Stats()
	if s.BuffersFree != 3 || s.BuffersCheckedOut != 0 {
		t.Errorf("Buffer not returned on rollback: %+v", s)
	}
	if s.TokensAvailable != 3 || s.TokensOutstanding != 0 {
		t.Errorf("Token not released on rollback: %+v", s)
	}
	if s.QueueFull != 1 {
		t.Errorf("Expected 1 queue-full, got %d", s.QueueFull)
	}
}

// TestDrainRestoresTokens verifies drain with 2 queued: tokens 1 → 3.
func TestDrainRestoresTokens(t *testing.T) {
	c := New(3)
	ctx := context.Background()

	c.Send(ctx, Command{Value: 1})
	c.Send(ctx, Command{Value: 2})

	if got := c.Stats().TokensAvailable; got != 1 {
		t.Fatalf("Expected 1 token before drain, got %d", got)
	}

	if n := c.Drain(); n != 2 {
		t.Errorf("Expected 2 drained, got %d", n)
	}

	s := c.Stats()
	if s.TokensAvailable != 3 || s.BuffersFree != 3 || s.Queued != 0 {
		t.Errorf("Expected full recovery after drain, got %+v", s)
	}
	if s.Drained != 2 {
		t.Errorf("Expected Drained=2, got %d", s.Drained)
	}

	if n := c.Drain(); n != 0 {
		t.Errorf("Drain on empty queue should return 0, got %d", n)
	}
}

// TestReleaseWithoutAcquire verifies token overflow is rejected.
func TestReleaseWithoutAcquire(t *testing.T) {
	c := New(2)
	if err := c.Release(); !errors.Is(err, ErrTokenOverflow) {
		t.Errorf("Expected ErrTokenOverflow, got %v", err)
	}
	if err := c.Return(&Buffer{}); !errors.Is(err, ErrPoolOverflow) {
		t.Errorf("Expected ErrPoolOverflow, got %v", err)
	}
	checkConservation(t, c)
}

// TestConcurrentProducerConsumer verifies conservation under load.
func TestConcurrentProducerConsumer(t *testing.T) {
	c := New(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if err := c.Send(ctx, Command{Seq: uint64(i)}); err != nil {
				t.Errorf("Send failed: %v", err)
				return
			}
		}
	}()

	for i := 0; i < total; i++ {
		cmd, err := c.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if cmd.Seq != uint64(i) {
			t.Fatalf("Out of order: expected %d, got %d", i, cmd.Seq)
		}
	}
	wg.Wait()

	s := c.Stats()
	if s.Rollbacks != 0 {
		t.Errorf("Expected no rollbacks, got %d", s.Rollbacks)
	}
	checkConservation(t, c)
}
