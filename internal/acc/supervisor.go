package acc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/acc-pipeline/internal/flow"
	"github.com/e7canasta/acc-pipeline/internal/hal"
	"github.com/e7canasta/acc-pipeline/internal/params"
	"github.com/e7canasta/acc-pipeline/internal/rtos"
)

// State is the supervisor state.
type State int

const (
	StateOff State = iota
	StateOn
)

func (s State) String() string {
	if s == StateOn {
		return "ON"
	}
	return "OFF"
}

// MarshalText encodes the state as "ON" or "OFF".
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition describes one supervisor state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Cause     Event     `json:"-"`
	CauseName string    `json:"cause"`
	SessionID string    `json:"session_id,omitempty"`
	Drained   int       `json:"drained"`
	At        time.Time `json:"at"`
}

// Supervisor owns the OFF/ON state machine.
type Supervisor struct {
	flags   *rtos.EventFlags
	store   *params.Store
	release *rtos.Semaphore
	timer   hal.Timer
	channel *flow.Channel
	beat    *Heartbeat

	// neutralize forces the neutral output, serialized with the actuation
	// consumer so no gated-through command can land after it.
	neutralize func()

	notify func(Transition)

	mu          sync.RWMutex
	state       State
	sessionID   string
	since       time.Time
	transitions uint64
	lastCause   Event
	lastOff     *Transition
}

// Init puts the store and flags in the startup OFF configuration.
func (s *Supervisor) Init(defaults params.Record) {
	defaults.Enabled = false
	defaults.Command = 0
	defaults.TargetSpeed = defaults.CruiseSpeed
	s.store.Reset(defaults)

	s.flags.Apply(FlagDisabled, FlagEnabled)

	s.mu.Lock()
	s.state = StateOff
	s.since = time.Now()
	s.lastCause = EventDisabled
	s.mu.Unlock()
}

// Run drives the state machine until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		switch s.State() {
		case StateOff:
			if _, err := s.flags.PendAny(ctx, FlagEnabled); err != nil {
				return
			}
			s.enterOn()

		case StateOn:
			f, err := s.flags.PendAny(ctx, flagsStop)
			if err != nil {
				return
			}
			s.enterOff(stopCause(f))
		}
	}
}

func (s *Supervisor) enterOn() {
	// Stale releases accumulated while OFF must not cause a burst.
	s.release.Set(0)

	s.store.Write(func(r *params.Record) {
		r.Command = 0
		r.TargetSpeed = r.CruiseSpeed
		r.Enabled = true
	})

	s.beat.Rearm()
	s.timer.Enable()

	// Cleared after the first release is underway, so a control timeout
	// left over from the OFF period cannot trip the new session.
	s.flags.Clear(FlagDeadlineMissed)

	session := uuid.NewString()
	t := s.record(StateOn, EventEnabled, session, 0)

	slog.Info("acc engaged",
		"session_id", session,
		"flags", FormatFlags(s.flags.Load()),
	)
	if s.notify != nil {
		s.notify(t)
	}
}

func (s *Supervisor) enterOff(cause Event) {
	s.timer.Disable()

	drained := s.channel.Drain()

	s.store.Write(func(r *params.Record) {
		r.Command = 0
		r.Enabled = false
	})

	s.flags.Apply(FlagDisabled, FlagEnabled)

	// The actuation consumer may be idle with nothing left to consume; the
	// last applied command must not persist.
	s.neutralize()

	s.mu.RLock()
	session := s.sessionID
	s.mu.RUnlock()

	t := s.record(StateOff, cause, session, drained)

	level := slog.LevelInfo
	if cause != EventDisabled {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "acc disengaged",
		"session_id", session,
		"cause", cause.String(),
		"drained", drained,
		"tokens_available", s.channel.Stats().TokensAvailable,
	)
	if s.notify != nil {
		s.notify(t)
	}
}

func (s *Supervisor) record(to State, cause Event, session string, drained int) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Transition{
		From:      s.state,
		To:        to,
		Cause:     cause,
		CauseName: cause.String(),
		SessionID: session,
		Drained:   drained,
		At:        time.Now(),
	}

	s.state = to
	s.since = t.At
	s.transitions++
	s.lastCause = cause
	if to == StateOn {
		s.sessionID = session
	} else {
		s.sessionID = ""
		s.lastOff = &t
	}
	return t
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SupervisorStats is a snapshot of the supervisor.
type SupervisorStats struct {
	State       State
	SessionID   string
	Since       time.Time
	Transitions uint64
	LastCause   Event
	LastOff     *Transition
}

// Stats returns a snapshot of the supervisor.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SupervisorStats{
		State:       s.state,
		SessionID:   s.sessionID,
		Since:       s.since,
		Transitions: s.transitions,
		LastCause:   s.lastCause,
	}
	if s.lastOff != nil {
		off := *s.lastOff
		st.LastOff = &off
	}
	return st
}
