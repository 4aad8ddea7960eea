package acc

import (
	"strings"

	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// Event is one of the pipeline's sticky event signals.
type Event uint8

const (
	EventEnabled Event = iota
	EventDisabled
	EventDeadlineMissed
	EventSafeToActuate
	EventFaultDetected
)

// Event flag bits. Values match the unit's published telemetry encoding.
const (
	FlagEnabled        rtos.Flags = 0x01
	FlagDisabled       rtos.Flags = 0x02
	FlagDeadlineMissed rtos.Flags = 0x04
	FlagSafeToActuate  rtos.Flags = 0x08
	FlagFaultDetected  rtos.Flags = 0x10

	// flagsGate must all be set for output to reach the actuator.
	flagsGate = FlagEnabled | FlagSafeToActuate

	// flagsStop drive the supervisor to OFF.
	flagsStop = FlagDisabled | FlagDeadlineMissed | FlagFaultDetected
)

var events = [...]struct {
	flag rtos.Flags
	name string
}{
	EventEnabled:        {FlagEnabled, "enabled"},
	EventDisabled:       {FlagDisabled, "disabled"},
	EventDeadlineMissed: {FlagDeadlineMissed, "deadline_missed"},
	EventSafeToActuate:  {FlagSafeToActuate, "safe_to_actuate"},
	EventFaultDetected:  {FlagFaultDetected, "fault_detected"},
}

// Flag returns the bit for e.
func (e Event) Flag() rtos.Flags {
	if int(e) >= len(events) {
		return 0
	}
	return events[e].flag
}

func (e Event) String() string {
	if int(e) >= len(events) {
		return "unknown"
	}
	return events[e].name
}

// EventsIn lists the events whose bits are set in f, in bit order.
func EventsIn(f rtos.Flags) []Event {
	var out []Event
	for i := range events {
		if f.Has(events[i].flag) {
			out = append(out, Event(i))
		}
	}
	return out
}

// FormatFlags renders f as "enabled|safe_to_actuate" ("none" when empty).
func FormatFlags(f rtos.Flags) string {
	evs := EventsIn(f)
	if len(evs) == 0 {
		return "none"
	}

	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e.String()
	}
	return strings.Join(names, "|")
}

// stopCause picks the event reported for a transition to OFF.
// A fault outranks a deadline miss, which outranks a plain disable.
func stopCause(f rtos.Flags) Event {
	switch {
	case f.Has(FlagFaultDetected):
		return EventFaultDetected
	case f.Has(FlagDeadlineMissed):
		return EventDeadlineMissed
	default:
		return EventDisabled
	}
}
