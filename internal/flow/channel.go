// Package flow implements the bounded, flow-controlled command channel
// between the control unit and the actuation consumer.
//
// A channel of capacity N is the triple:
//
//	tokens  N admission tokens (counting semaphore)
//	pool    N preallocated command buffers
//	queue   FIFO of at most N filled buffers
//
// Producer: take a token, check out a buffer, fill it, push it. If any step
// after the token fails, the buffer goes back to the pool and the token is
// released. Consumer: pop a buffer, copy the command out, return the buffer,
// release the token. At rest, tokens available plus tokens outstanding is N
// and no more than N buffers are ever checked out.
package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrPoolEmpty is returned when no buffer can be checked out.
	ErrPoolEmpty = errors.New("flow: buffer pool empty")

	// ErrQueueFull is returned when a filled buffer cannot be enqueued.
	ErrQueueFull = errors.New("flow: queue full")

	// ErrTokenOverflow is returned when more tokens are released than acquired.
	ErrTokenOverflow = errors.New("flow: token released without acquire")

	// ErrPoolOverflow is returned when a buffer is returned to a full pool.
	ErrPoolOverflow = errors.New("flow: buffer returned to full pool")
)

// DefaultCapacity is the reference channel capacity.
const DefaultCapacity = 3

// Command is the value carried by one buffer.
type Command struct {
	Value  float64   // manipulated output dM
	Seq    uint64    // producer-assigned sequence
	Issued time.Time // when the control unit produced it
}

// Buffer is one preallocated command block.
type Buffer struct {
	cmd Command
}

// Stats is a point-in-time view of the channel.
type Stats struct {
	Capacity          int
	TokensAvailable   int
	TokensOutstanding int
	BuffersFree       int
	BuffersCheckedOut int
	Queued            int

	Sent      uint64
	Received  uint64
	Rollbacks uint64
	PoolEmpty uint64
	QueueFull uint64
	Drained   uint64
}

// Channel is the flow-controlled channel.
type Channel struct {
	capacity int

	tokens chan struct{}
	pool   chan *Buffer
	queue  chan *Buffer

	outstanding atomic.Int64 // tokens held by producers or queued buffers
	checkedOut  atomic.Int64

	sent      atomic.Uint64
	received  atomic.Uint64
	rollbacks atomic.Uint64
	poolEmpty atomic.Uint64
	queueFull atomic.Uint64
	drained   atomic.Uint64
}

// New creates a channel with capacity buffers, tokens and queue slots.
// A capacity < 1 uses DefaultCapacity.
func New(capacity int) *Channel {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	c := &Channel{
		capacity: capacity,
		tokens:   make(chan struct{}, capacity),
		pool:     make(chan *Buffer, capacity),
		queue:    make(chan *Buffer, capacity),
	}
	for i := 0; i < capacity; i++ {
		c.tokens <- struct{}{}
		c.pool <- &Buffer{}
	}
	return c
}

// Capacity returns N.
func (c *Channel) Capacity() int { return c.capacity }

// Acquire takes one admission token, blocking until one is available.
func (c *Channel) Acquire(ctx context.Context) error {
	select {
	case <-c.tokens:
		c.outstanding.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives one admission token back.
func (c *Channel) Release() error {
	if c.outstanding.Add(-1) < 0 {
		c.outstanding.Add(1)
		return ErrTokenOverflow
	}
	c.tokens <- struct{}{} // cannot block: outstanding > 0 means a free slot
	return nil
}

// Checkout takes a buffer from the pool without blocking.
func (c *Channel) Checkout() (*Buffer, error) {
	select {
	case b := <-c.pool:
		c.checkedOut.Add(1)
		return b, nil
	default:
		return nil, ErrPoolEmpty
	}
}

// Return gives a buffer back to the pool.
func (c *Channel) Return(b *Buffer) error {
	select {
	case c.pool <- b:
		c.checkedOut.Add(-1)
		return nil
	default:
		return ErrPoolOverflow
	}
}

// Push enqueues a filled buffer without blocking.
func (c *Channel) Push(b *Buffer) error {
	select {
	case c.queue <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send transfers cmd to the consumer: token, buffer, push.
//
// Blocks only while waiting for a token. On ErrPoolEmpty or ErrQueueFull the
// buffer and token are given back before returning.
func (c *Channel) Send(ctx context.Context, cmd Command) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}

	b, err := c.Checkout()
	if err != nil {
		c.poolEmpty.Add(1)
		c.rollback(nil)
		return err
	}

	b.cmd = cmd
	if err := c.Push(b); err != nil {
		c.queueFull.Add(1)
		c.rollback(b)
		return err
	}

	c.sent.Add(1)
	return nil
}

func (c *Channel) rollback(b *Buffer) {
	c.rollbacks.Add(1)
	if b != nil {
		b.cmd = Command{}
		_ = c.Return(b)
	}
	_ = c.Release()
}

// Receive blocks for the next command. The buffer is returned and the token
// released before Receive returns, so the caller only ever holds a copy.
func (c *Channel) Receive(ctx context.Context) (Command, error) {
	select {
	case b := <-c.queue:
		cmd := c.recycle(b)
		c.received.Add(1)
		return cmd, nil
	case <-ctx.Done():
		return Command{}, ctx.Err()
	}
}

// recycle copies the command out, returns the buffer, then releases the token.
// The buffer goes back first so a freed token never finds an empty pool.
func (c *Channel) recycle(b *Buffer) Command {
	cmd := b.cmd
	b.cmd = Command{}
	_ = c.Return(b)
	_ = c.Release()
	return cmd
}

// Drain empties the queue without blocking, recycling every buffer.
// Returns the number of commands discarded.
func (c *Channel) Drain() int {
	n := 0
	for {
		select {
		case b := <-c.queue:
			c.recycle(b)
			n++
		default:
			c.drained.Add(uint64(n))
			return n
		}
	}
}

// Stats returns a snapshot of the channel. Fields are read independently, so
// under concurrent use they may be off by one in-flight operation.
func (c *Channel) Stats() Stats {
	return Stats{
		Capacity:          c.capacity,
		TokensAvailable:   len(c.tokens),
		TokensOutstanding: int(c.outstanding.Load()),
		BuffersFree:       len(c.pool),
		BuffersCheckedOut: int(c.checkedOut.Load()),
		Queued:            len(c.queue),

		Sent:      c.sent.Load(),
		Received:  c.received.Load(),
		Rollbacks: c.rollbacks.Load(),
		PoolEmpty: c.poolEmpty.Load(),
		QueueFull: c.queueFull.Load(),
		Drained:   c.drained.Load(),
	}
}
