package acc

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/flow"
	"github.com/e7canasta/acc-pipeline/internal/params"
	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// Outcome is how one control cycle ended.
type Outcome int

const (
	OutcomeSent     Outcome = iota // command enqueued
	OutcomeTimeout                 // no wake signal in time, deadline-missed raised
	OutcomeGated                   // not enabled or not safe
	OutcomeStale                   // snapshot rejected
	OutcomeRollback                // token/buffer given back after an enqueue failure
	OutcomeCanceled                // ctx done
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeGated:
		return "gated"
	case OutcomeStale:
		return "stale"
	case OutcomeRollback:
		return "rollback"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Control is the deadline-bound control unit.
type Control struct {
	wake    *rtos.Semaphore
	flags   *rtos.EventFlags
	store   *params.Store
	channel *flow.Channel
	beat    *Heartbeat

	period  time.Duration
	timeout time.Duration

	seq atomic.Uint64

	cycles    atomic.Uint64
	sent      atomic.Uint64
	timeouts  atomic.Uint64
	gated     atomic.Uint64
	stale     atomic.Uint64
	rollbacks atomic.Uint64

	lastCommand atomic.Uint64 // math.Float64bits
}

// Run executes control cycles until ctx is done.
//
// The wake signal for each period must arrive within timeout of that
// period's start. After a wake at w the next deadline is w+period+timeout;
// after a timeout at d it is d+period. The first wait allows timeout.
func (c *Control) Run(ctx context.Context) {
	deadline := time.Now().Add(c.timeout)

	for {
		outcome, woke := c.Cycle(ctx, deadline)
		switch outcome {
		case OutcomeCanceled:
			return
		case OutcomeTimeout:
			deadline = deadline.Add(c.period)
		default:
			deadline = woke.Add(c.period + c.timeout)
		}
	}
}

// Cycle runs WAIT → GATE → READ → COMPUTE → WRITE-BACK → ENQUEUE once.
// It returns the outcome and the time the wake signal was received.
func (c *Control) Cycle(ctx context.Context, deadline time.Time) (Outcome, time.Time) {
	if err := c.wake.PendUntil(ctx, deadline); err != nil {
		if errors.Is(err, rtos.ErrTimeout) {
			c.timeouts.Add(1)
			c.flags.Set(FlagDeadlineMissed)
			return OutcomeTimeout, time.Time{}
		}
		return OutcomeCanceled, time.Time{}
	}
	woke := time.Now()
	c.cycles.Add(1)

	return c.process(ctx), woke
}

func (c *Control) process(ctx context.Context) Outcome {
	if !c.flags.AcceptAll(flagsGate) {
		c.gated.Add(1)
		return OutcomeGated
	}

	snap := c.store.Snapshot()
	if !snap.Fresh() {
		c.stale.Add(1)
		slog.Debug("control: stale snapshot skipped", "seq1", snap.Seq1, "seq2", snap.Seq2)
		return OutcomeStale
	}

	res := EvaluateLaw(snap.Record)

	c.store.Write(func(r *params.Record) {
		r.Command = res.Command
		r.TargetSpeed = res.TargetSpeed
	})
	c.lastCommand.Store(math.Float64bits(res.Command))

	err := c.channel.Send(ctx, flow.Command{
		Value:  res.Command,
		Seq:    c.seq.Add(1),
		Issued: time.Now(),
	})
	switch {
	case err == nil:
		c.sent.Add(1)
		c.beat.BeatControl()
		return OutcomeSent
	case ctx.Err() != nil:
		return OutcomeCanceled
	default:
		c.rollbacks.Add(1)
		slog.Debug("control: enqueue rolled back", "error", err)
		return OutcomeRollback
	}
}
