package acc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/hal"
	"github.com/e7canasta/acc-pipeline/internal/params"
)

// DisplayReader periodically renders the store. Stale snapshots are skipped.
type DisplayReader struct {
	store   *params.Store
	display hal.Display
	period  time.Duration
	notify  func(params.Record)

	rendered atomic.Uint64
	skipped  atomic.Uint64
}

// Run refreshes the display every period until ctx is done.
func (d *DisplayReader) Run(ctx context.Context) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Refresh()
		}
	}
}

// Refresh takes one snapshot and renders it. Returns false if it was stale.
func (d *DisplayReader) Refresh() bool {
	snap := d.store.Snapshot()
	if !snap.Fresh() {
		d.skipped.Add(1)
		return false
	}

	d.display.ShowDistance(snap.Distance)
	d.display.ShowSpeed(snap.Speed)
	d.display.ShowStatus(snap.Enabled)
	d.rendered.Add(1)

	if d.notify != nil {
		d.notify(snap.Record)
	}
	return true
}
