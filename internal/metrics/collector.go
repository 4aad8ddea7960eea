// Package metrics exposes pipeline health and Prometheus metrics over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/e7canasta/acc-pipeline/internal/acc"
)

// Source provides pipeline statistics.
type Source interface {
	Stats() acc.Stats
}

const namespace = "acc"

// Collector converts pipeline statistics into Prometheus metrics at scrape
// time, so the hard tasks carry no instrumentation beyond their counters.
type Collector struct {
	source Source

	up          *prometheus.Desc
	engaged     *prometheus.Desc
	flag        *prometheus.Desc
	transitions *prometheus.Desc
	cycles      *prometheus.Desc
	samples     *prometheus.Desc
	actuations  *prometheus.Desc
	command     *prometheus.Desc
	output      *prometheus.Desc
	hbChecks    *prometheus.Desc
	hbMisses    *prometheus.Desc
	display     *prometheus.Desc
	tokens      *prometheus.Desc
	queued      *prometheus.Desc
	chanOps     *prometheus.Desc
	storeSeq    *prometheus.Desc
}

// NewCollector creates a collector labelled with the instance id.
func NewCollector(src Source, instanceID string) *Collector {
	constLabels := prometheus.Labels{"instance_id": instanceID}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}

	return &Collector{
		source: src,

		up:          desc("pipeline_up", "1 if the pipeline tasks are running."),
		engaged:     desc("engaged", "1 if the supervisor is ON."),
		flag:        desc("event_flag", "Event flag state (1=set).", "flag"),
		transitions: desc("transitions_total", "Supervisor state transitions."),
		cycles:      desc("control_cycles_total", "Control cycles by outcome.", "outcome"),
		samples:     desc("sensing_samples_total", "Sensor samples written to the store."),
		actuations:  desc("actuations_total", "Actuator writes by kind.", "kind"),
		command:     desc("control_command", "Last computed manipulated output."),
		output:      desc("actuator_output", "Last value written to the actuator."),
		hbChecks:    desc("heartbeat_checks_total", "Heartbeat windows checked."),
		hbMisses:    desc("heartbeat_misses_total", "Heartbeat windows missed."),
		display:     desc("display_refreshes_total", "Display refreshes by result.", "result"),
		tokens:      desc("channel_tokens", "Admission tokens by state.", "state"),
		queued:      desc("channel_queued", "Commands waiting in the channel."),
		chanOps:     desc("channel_ops_total", "Channel operations by kind.", "op"),
		storeSeq:    desc("store_sequence", "Parameter store sequence counter."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.up, c.engaged, c.flag, c.transitions, c.cycles, c.samples,
		c.actuations, c.command, c.output, c.hbChecks, c.hbMisses,
		c.display, c.tokens, c.queued, c.chanOps, c.storeSeq,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.up, boolValue(s.Running))
	gauge(c.engaged, boolValue(s.State == acc.StateOn.String()))

	for _, ev := range []acc.Event{
		acc.EventEnabled, acc.EventDisabled, acc.EventDeadlineMissed,
		acc.EventSafeToActuate, acc.EventFaultDetected,
	} {
		gauge(c.flag, boolValue(s.Flags.Has(ev.Flag())), ev.String())
	}

	counter(c.transitions, s.Transitions)

	counter(c.cycles, s.Control.Sent, "sent")
	counter(c.cycles, s.Control.Timeouts, "timeout")
	counter(c.cycles, s.Control.Gated, "gated")
	counter(c.cycles, s.Control.Stale, "stale")
	counter(c.cycles, s.Control.Rollbacks, "rollback")

	counter(c.samples, s.Samples)
	counter(c.actuations, s.Actuation.Applied, "applied")
	counter(c.actuations, s.Actuation.Neutralized, "neutral")
	gauge(c.command, s.Control.LastCommand)
	gauge(c.output, s.Actuation.LastOutput)

	counter(c.hbChecks, s.HeartbeatChecks)
	counter(c.hbMisses, s.HeartbeatMisses)

	counter(c.display, s.DisplayRendered, "rendered")
	counter(c.display, s.DisplaySkipped, "skipped")

	gauge(c.tokens, float64(s.Channel.TokensAvailable), "available")
	gauge(c.tokens, float64(s.Channel.TokensOutstanding), "outstanding")
	gauge(c.queued, float64(s.Channel.Queued))
	counter(c.chanOps, s.Channel.Sent, "sent")
	counter(c.chanOps, s.Channel.Received, "received")
	counter(c.chanOps, s.Channel.Rollbacks, "rollback")
	counter(c.chanOps, s.Channel.Drained, "drained")

	gauge(c.storeSeq, float64(s.Seq))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
