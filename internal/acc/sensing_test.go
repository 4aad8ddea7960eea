package acc

import (
	"context"
	"testing"
	"time"
)

// TestSensingSampleWritesThenWakes verifies history shift and the control wake.
func TestSensingSampleWritesThenWakes(t *testing.T) {
	p, timer, _ := newManualPipeline()

	p.sensing.Sample()

	snap := p.Snapshot()
	if snap.Distance != 60 || snap.Speed != 90 || snap.Speed1 != 90 || snap.Speed2 != 88 {
		t.Errorf("Unexpected record after sample: %+v", snap.Record)
	}
	if p.wake.Count() != 1 {
		t.Errorf("Expected control wake posted, count=%d", p.wake.Count())
	}

	// Interrupt handler acknowledges and releases
	timer.fire()
	if p.release.Count() != 1 || timer.acks != 1 {
		t.Errorf("Expected 1 release and 1 ack, got %d/%d", p.release.Count(), timer.acks)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.sensing.Run(ctx)
		close(done)
	}()

	waitFor(t, time.Second, "released sample", func() bool {
		return p.sensing.samples.Load() == 2
	})

	cancel()
	<-done
}

// TestDisplayRefresh verifies rendering and the observer hook.
func TestDisplayRefresh(t *testing.T) {
	p, _, _ := newManualPipeline()
	obs := &recordingObserver{}
	p.AddObserver(obs)

	if !p.display.Refresh() {
		t.Fatal("Refresh at rest should succeed")
	}

	disp := p.display.display.(*fakeDisplay)
	if disp.renders != 1 || disp.status {
		t.Errorf("Expected one render with status OFF, got %d/%v", disp.renders, disp.status)
	}
	if obs.snapshots != 1 {
		t.Errorf("Expected 1 observed snapshot, got %d", obs.snapshots)
	}
}
