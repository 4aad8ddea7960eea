package acc

import (
	"math"
	"time"

	"github.com/e7canasta/acc-pipeline/internal/flow"
	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// ControlStats counts control cycles by outcome.
type ControlStats struct {
	Cycles      uint64  `json:"cycles"`
	Sent        uint64  `json:"sent"`
	Timeouts    uint64  `json:"timeouts"`
	Gated       uint64  `json:"gated"`
	Stale       uint64  `json:"stale"`
	Rollbacks   uint64  `json:"rollbacks"`
	LastCommand float64 `json:"last_command"`
}

// ActuationStats counts actuator writes.
type ActuationStats struct {
	Applied     uint64  `json:"applied"`
	Neutralized uint64  `json:"neutralized"`
	LastOutput  float64 `json:"last_output"`
}

// Stats is a point-in-time view of the whole pipeline.
type Stats struct {
	Running     bool          `json:"running"`
	Uptime      time.Duration `json:"uptime"`
	State       string        `json:"state"`
	SessionID   string        `json:"session_id,omitempty"`
	StateSince  time.Time     `json:"state_since"`
	Transitions uint64        `json:"transitions"`
	LastCause   string        `json:"last_cause"`

	Flags     rtos.Flags `json:"flags"`
	FlagNames string     `json:"flag_names"`
	Seq       uint32     `json:"seq"`

	Samples         uint64 `json:"samples"`
	DisplayRendered uint64 `json:"display_rendered"`
	DisplaySkipped  uint64 `json:"display_skipped"`
	HeartbeatChecks uint64 `json:"heartbeat_checks"`
	HeartbeatMisses uint64 `json:"heartbeat_misses"`
	ReleasesPending int    `json:"releases_pending"`

	Control   ControlStats   `json:"control"`
	Actuation ActuationStats `json:"actuation"`
	Channel   flow.Stats     `json:"channel"`
}

// Stats returns a snapshot of every counter in the pipeline.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	running := p.running
	var uptime time.Duration
	if running {
		uptime = time.Since(p.started)
	}
	p.mu.RUnlock()

	sup := p.supervisor.Stats()
	flags := p.flags.Load()
	checks, misses := p.heartbeat.Counts()

	return Stats{
		Running:     running,
		Uptime:      uptime,
		State:       sup.State.String(),
		SessionID:   sup.SessionID,
		StateSince:  sup.Since,
		Transitions: sup.Transitions,
		LastCause:   sup.LastCause.String(),

		Flags:     flags,
		FlagNames: FormatFlags(flags),
		Seq:       p.store.Seq(),

		Samples:         p.sensing.samples.Load(),
		DisplayRendered: p.display.rendered.Load(),
		DisplaySkipped:  p.display.skipped.Load(),
		HeartbeatChecks: checks,
		HeartbeatMisses: misses,
		ReleasesPending: p.release.Count(),

		Control: ControlStats{
			Cycles:      p.control.cycles.Load(),
			Sent:        p.control.sent.Load(),
			Timeouts:    p.control.timeouts.Load(),
			Gated:       p.control.gated.Load(),
			Stale:       p.control.stale.Load(),
			Rollbacks:   p.control.rollbacks.Load(),
			LastCommand: math.Float64frombits(p.control.lastCommand.Load()),
		},
		Actuation: ActuationStats{
			Applied:     p.actuation.applied.Load(),
			Neutralized: p.actuation.neutralized.Load(),
			LastOutput:  math.Float64frombits(p.actuation.lastOutput.Load()),
		},
		Channel: p.channel.Stats(),
	}
}
