// Package schedule sequences sets, the start countdown and rest periods of an
// exercise.
package schedule

import (
	"fmt"
	"time"

	"github.com/meltforce/rehabreps/internal/timeutil"
)

// State is the exercise-level phase.
type State int

const (
	NotStarted State = iota
	Countdown
	Active
	Resting
	Complete
)

func (s State) String() string {
	switch s {
	case Countdown:
		return "countdown"
	case Active:
		return "active"
	case Resting:
		return "resting"
	case Complete:
		return "complete"
	}
	return "not_started"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{NotStarted, Countdown, Active, Resting, Complete} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// TickInterval is the period of countdown and rest ticks.
const TickInterval = time.Second

// Config holds the set structure of one exercise.
type Config struct {
	TargetSets       int
	CountdownSeconds int
	RestSeconds      int
}

// Transition describes what a scheduler call changed.
type Transition struct {
	From State
	To   State
	// Set is the current set index after the call (1-based, 0 when not started).
	Set int
	// Remaining is the countdown or rest seconds left after the call.
	Remaining int
	// NewSet is true when the call began a set, so per-set counters must reset.
	NewSet bool
}

// Scheduler is the set/rest state machine. It is not safe for concurrent use;
// the owning session serializes calls together with reads of C.
type Scheduler struct {
	clock     timeutil.Clock
	cfg       Config
	state     State
	set       int
	remaining int
	total     int
	ticker    timeutil.Ticker
}

// New creates a scheduler in NotStarted.
func New(clock timeutil.Clock, cfg Config) *Scheduler {
	if cfg.TargetSets < 1 {
		cfg.TargetSets = 1
	}
	if cfg.CountdownSeconds < 0 {
		cfg.CountdownSeconds = 0
	}
	if cfg.RestSeconds < 0 {
		cfg.RestSeconds = 0
	}
	return &Scheduler{clock: clock, cfg: cfg}
}

// Start cancels any pending timer and begins set 1, through the countdown when one is configured.
func (s *Scheduler) Start() Transition {
	from := s.state
	s.cancel()
	s.set = 1
	if s.cfg.CountdownSeconds > 0 {
		s.enter(Countdown, s.cfg.CountdownSeconds)
		return Transition{From: from, To: Countdown, Set: s.set, Remaining: s.remaining}
	}
	s.state = Active
	return Transition{From: from, To: Active, Set: s.set, NewSet: true}
}

// CompleteSet ends the active set. The last set completes the exercise;
// otherwise the rest period begins. ok is false when no set is active.
func (s *Scheduler) CompleteSet() (Transition, bool) {
	if s.state != Active {
		return Transition{}, false
	}
	if s.set >= s.cfg.TargetSets {
		s.cancel()
		s.state = Complete
		return Transition{From: Active, To: Complete, Set: s.set}, true
	}
	if s.cfg.RestSeconds == 0 {
		s.set++
		return Transition{From: Active, To: Active, Set: s.set, NewSet: true}, true
	}
	s.enter(Resting, s.cfg.RestSeconds)
	return Transition{From: Active, To: Resting, Set: s.set, Remaining: s.remaining}, true
}

// Tick consumes one timer tick. ok is false for ticks arriving in a state
// without a running timer.
func (s *Scheduler) Tick() (Transition, bool) {
	if s.state != Countdown && s.state != Resting {
		return Transition{}, false
	}
	from := s.state
	s.remaining--
	if s.remaining > 0 {
		return Transition{From: from, To: from, Set: s.set, Remaining: s.remaining}, true
	}

	s.cancel()
	s.remaining = 0
	s.total = 0
	if from == Resting {
		s.set++
	}
	s.state = Active
	return Transition{From: from, To: Active, Set: s.set, NewSet: true}, true
}

// Abort cancels any pending timer and returns to NotStarted. Safe in any state.
func (s *Scheduler) Abort() Transition {
	from := s.state
	s.cancel()
	s.state = NotStarted
	s.set = 0
	return Transition{From: from, To: NotStarted}
}

// C returns the live timer channel, or nil when no timer runs.
func (s *Scheduler) C() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C()
}

func (s *Scheduler) enter(state State, seconds int) {
	s.cancel()
	s.state = state
	s.remaining = seconds
	s.total = seconds
	s.ticker = s.clock.NewTicker(TickInterval)
}

func (s *Scheduler) cancel() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.remaining = 0
	s.total = 0
}

// State returns the current state.
func (s *Scheduler) State() State { return s.state }

// Set returns the 1-based current set, 0 before Start.
func (s *Scheduler) Set() int { return s.set }

// TargetSets returns the configured number of sets.
func (s *Scheduler) TargetSets() int { return s.cfg.TargetSets }

// Remaining returns the seconds left in the countdown or rest window.
func (s *Scheduler) Remaining() int { return s.remaining }

// RestWindow returns the remaining and total rest seconds while Resting.
func (s *Scheduler) RestWindow() (remaining, total int, ok bool) {
	if s.state != Resting {
		return 0, 0, false
	}
	return s.remaining, s.total, true
}
