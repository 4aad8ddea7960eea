package acc

import (
	"context"
	"testing"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// TestControlCycleSendsCommand verifies a full cycle on the reference scenario.
func TestControlCycleSendsCommand(t *testing.T) {
	p, _, _ := newManualPipeline()
	p.store.Reset(scenarioRecord())
	p.flags.Set(FlagEnabled | FlagSafeToActuate)

	p.wake.Post()
	outcome, woke := p.control.Cycle(context.Background(), time.Now().Add(time.Second))
	if outcome != OutcomeSent {
		t.Fatalf("Expected OutcomeSent, got %v", outcome)
	}
	if woke.IsZero() {
		t.Error("Expected wake time")
	}

	snap := p.store.Snapshot()
	if snap.Command != 19.75 || snap.TargetSpeed != 100 {
		t.Errorf("Expected write-back (19.75, 100), got (%v, %v)", snap.Command, snap.TargetSpeed)
	}

	cmd, err := p.channel.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if cmd.Value != 19.75 {
		t.Errorf("Expected queued 19.75, got %v", cmd.Value)
	}

	if !p.heartbeat.control.Load() {
		t.Error("Control heartbeat should be marked after a sent command")
	}
}

// TestControlTimeout verifies timeout: flag raised, no write-back, no enqueue.
func TestControlTimeout(t *testing.T) {
	p, _, _ := newManualPipeline()
	p.flags.Set(FlagEnabled | FlagSafeToActuate)
	seq := p.store.Seq()

	outcome, _ := p.control.Cycle(context.Background(), time.Now().Add(10*time.Millisecond))
	if outcome != OutcomeTimeout {
		t.Fatalf("Expected OutcomeTimeout, got %v", outcome)
	}

	if !p.flags.AcceptAll(FlagDeadlineMissed) {
		t.Error("Deadline-missed flag should be set")
	}
	if p.store.Seq() != seq {
		t.Errorf("Store written on timeout: seq %d → %d", seq, p.store.Seq())
	}
	if q := p.channel.Stats().Queued; q != 0 {
		t.Errorf("Expected nothing enqueued, got %d", q)
	}
	if p.heartbeat.control.Load() {
		t.Error("Control heartbeat must not be marked on timeout")
	}
}

// TestControlGated verifies a closed gate skips without touching the store.
func TestControlGated(t *testing.T) {
	tests := []struct {
		name  string
		flags rtos.Flags
	}{
		{"disabled", FlagSafeToActuate},
		{"unsafe", FlagEnabled},
		{"neither", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newManualPipeline()
			p.flags.Clear(FlagEnabled | FlagSafeToActuate)
			p.flags.Set(tt.flags)
			seq := p.store.Seq()

			p.wake.Post()
			outcome, _ := p.control.Cycle(context.Background(), time.Now().Add(time.Second))
			if outcome != OutcomeGated {
				t.Fatalf("Expected OutcomeGated, got %v", outcome)
			}
			if p.store.Seq() != seq {
				t.Error("Store written while gated")
			}
			if p.channel.Stats().Queued != 0 {
				t.Error("Command enqueued while gated")
			}
		})
	}
}

// TestControlRollback verifies resource exhaustion gives everything back.
func TestControlRollback(t *testing.T) {
	p, _, _ := newManualPipeline()
	p.flags.Set(FlagEnabled | FlagSafeToActuate)

	// Take every buffer out of the pool behind the protocol's back
	for i := 0; i < p.channel.Capacity(); i++ {
		if _, err := p.channel.Checkout(); err != nil {
			t.Fatalf("Checkout failed: %v", err)
		}
	}

	p.wake.Post()
	outcome, _ := p.control.Cycle(context.Background(), time.Now().Add(time.Second))
	if outcome != OutcomeRollback {
		t.Fatalf("Expected OutcomeRollback, got %v", outcome)
	}

	s := p.channel.Stats()
	if s.TokensAvailable != s.Capacity || s.TokensOutstanding != 0 {
		t.Errorf("Token not restored after rollback: %+v", s)
	}
	if p.heartbeat.control.Load() {
		t.Error("Control heartbeat must not be marked on rollback")
	}
}

// TestControlRunAnchorsDeadline verifies periodic wakes inside the window
// never raise deadline-missed.
func TestControlRunAnchorsDeadline(t *testing.T) {
	p, _, _ := newManualPipeline()
	p.control.period = 40 * time.Millisecond
	p.control.timeout = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.control.Run(ctx)
		close(done)
	}()

	// Wake at the start of each period
	ticker := time.NewTicker(40 * time.Millisecond)
	p.wake.Post()
	for i := 0; i < 5; i++ {
		<-ticker.C
		p.wake.Post()
	}
	ticker.Stop()

	if p.flags.AcceptAll(FlagDeadlineMissed) {
		t.Error("Deadline-missed raised while wakes arrived every period")
	}

	// Stop waking: the next window must expire
	waitFor(t, time.Second, "deadline miss", func() bool {
		return p.flags.AcceptAll(FlagDeadlineMissed)
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Control.Run did not stop on cancel")
	}
}
