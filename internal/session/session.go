// Package session composes angle measurement, smoothing, rep counting and set
// scheduling into one exercise session observed through a Presenter.
package session

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/meltforce/rehabreps/internal/angle"
	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/metrics"
	"github.com/meltforce/rehabreps/internal/pose"
	"github.com/meltforce/rehabreps/internal/rep"
	"github.com/meltforce/rehabreps/internal/schedule"
	"github.com/meltforce/rehabreps/internal/timeutil"
)

// Status is the lifecycle of a session as reported in its summary.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Options carries the collaborators of a session. Zero values are usable:
// real clock, no presenter, no metrics, discarded logs.
type Options struct {
	Clock     timeutil.Clock
	Presenter Presenter
	Metrics   *metrics.Manager
	Logger    *slog.Logger
}

// tracker is the per-side pipeline: joint → smoother → counter.
type tracker struct {
	side     rep.Side
	joint    exercise.Joint
	smoother *angle.Smoother
	counter  *rep.Counter
	angle    float64
	visible  bool
}

// Session is one exercise run. It is not safe for concurrent use; drive it
// from a single goroutine, usually through a Runner.
type Session struct {
	log       *slog.Logger
	clock     timeutil.Clock
	presenter Presenter
	metrics   *metrics.Manager

	def      *exercise.Definition
	cfg      Config
	sched    *schedule.Scheduler
	trackers []*tracker

	status        Status
	startedAt     time.Time
	endedAt       time.Time
	setsCompleted int
	reps          []RepRecord
}

// New builds a session for def. Invalid configuration values fall back to
// defaults with a warning; the returned session is NotStarted.
func New(def *exercise.Definition, cfg Config, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	presenter := opts.Presenter
	if presenter == nil {
		presenter = NopPresenter{}
	}

	sides := cfg.normalize(def, log)
	s := &Session{
		log:       log.With("exercise", def.Name),
		clock:     clock,
		presenter: presenter,
		metrics:   opts.Metrics,
		def:       def,
		cfg:       cfg,
		status:    StatusPending,
		sched: schedule.New(clock, schedule.Config{
			TargetSets:       cfg.TargetSets,
			CountdownSeconds: *cfg.CountdownSeconds,
			RestSeconds:      *cfg.RestSeconds,
		}),
	}

	seed := math.NaN()
	if def.Seed != nil {
		seed = *def.Seed
	}
	for _, side := range sides {
		joint, _ := def.Joint(side)
		s.trackers = append(s.trackers, &tracker{
			side:     side,
			joint:    joint,
			smoother: angle.NewSmoother(def.Alpha, seed),
			counter:  rep.NewCounter(side, def.CounterConfig(cfg.TargetReps)),
		})
	}
	return s
}

// Config returns the normalized configuration.
func (s *Session) Config() Config { return s.cfg }

// Definition returns the exercise being performed.
func (s *Session) Definition() *exercise.Definition { return s.def }

// State returns the scheduler state.
func (s *Session) State() schedule.State { return s.sched.State() }

// Start begins (or restarts) the exercise: any pending timer is cancelled,
// smoothers and counters are reset and set 1 begins after the countdown.
func (s *Session) Start() {
	if s.status == StatusRunning {
		s.log.Info("restarting session", "state", s.sched.State())
	}
	tr := s.sched.Start()
	for _, t := range s.trackers {
		t.smoother.Reset()
		t.counter.Reset()
		t.angle, t.visible = 0, false
	}
	s.status = StatusRunning
	s.startedAt = s.clock.Now()
	s.endedAt = time.Time{}
	s.setsCompleted = 0
	s.reps = nil
	s.metrics.Session("started")
	s.log.Info("session started", "side", s.cfg.Side, "reps", s.cfg.TargetReps, "sets", s.cfg.TargetSets)

	if tr.To == schedule.Countdown {
		s.emit(Event{Kind: CountdownTick, Set: tr.Set, Remaining: tr.Remaining})
		s.presenter.Cue(CueCountdown)
	} else {
		s.beginSet(tr.Set)
	}
	s.publish()
}

// Abort cancels a running session. It is a no-op when nothing is running.
func (s *Session) Abort() {
	if s.status != StatusRunning {
		return
	}
	set := s.sched.Set()
	tr := s.sched.Abort()
	for _, t := range s.trackers {
		t.counter.Reset()
	}
	s.status = StatusAborted
	s.endedAt = s.clock.Now()
	s.metrics.Session(string(StatusAborted))
	s.log.Info("session aborted", "state", tr.From, "sets_completed", s.setsCompleted)
	s.emit(Event{Kind: SessionAborted, Set: set})
	s.publish()
}

// HandleFrame measures, smooths and counts every tracked side. Counters only
// advance while a set is active; a side with missing landmarks is skipped.
func (s *Session) HandleFrame(f pose.Frame) {
	s.metrics.Frame()

	active := s.sched.State() == schedule.Active
	for _, t := range s.trackers {
		raw, err := t.joint.Measure(f, s.def.Axes, s.cfg.MinScore)
		switch {
		case errors.Is(err, exercise.ErrMissingLandmark):
			t.visible = false
			s.metrics.SideFault("missing")
			s.log.Debug("side skipped", "side", t.side, "err", err)
			continue
		case errors.Is(err, exercise.ErrDegenerate):
			s.metrics.SideFault("degenerate")
			s.log.Debug("degenerate joint, reading 0", "side", t.side)
		}
		t.visible = true
		t.angle = t.smoother.Update(raw)
		if !active {
			continue
		}
		if res := t.counter.Update(t.angle); res.Finished != nil {
			s.finishRep(*res.Finished)
		}
	}

	if active && s.setDone() {
		s.completeSet()
	}
	s.publish()
}

// Poll consumes every timer tick that is ready without blocking and returns
// how many were handled.
func (s *Session) Poll() int {
	n := 0
	for {
		c := s.sched.C()
		if c == nil {
			return n
		}
		select {
		case <-c:
			s.tick()
			n++
		default:
			return n
		}
	}
}

func (s *Session) tick() {
	tr, ok := s.sched.Tick()
	if !ok {
		return
	}
	switch {
	case tr.To == schedule.Countdown:
		s.emit(Event{Kind: CountdownTick, Set: tr.Set, Remaining: tr.Remaining})
		s.presenter.Cue(CueCountdown)
	case tr.To == schedule.Resting:
		s.emit(Event{Kind: RestTick, Set: tr.Set, Remaining: tr.Remaining})
	case tr.NewSet:
		if tr.From == schedule.Resting {
			s.presenter.Cue(CueRestOver)
		}
		s.beginSet(tr.Set)
	}
	s.publish()
}

func (s *Session) setDone() bool {
	for _, t := range s.trackers {
		if !t.counter.Done() {
			return false
		}
	}
	return len(s.trackers) > 0
}

func (s *Session) beginSet(set int) {
	for _, t := range s.trackers {
		t.counter.Reset()
	}
	s.emit(Event{Kind: SetStarted, Set: set})
	s.presenter.Cue(CueGo)
	s.log.Debug("set started", "set", set)
}

func (s *Session) finishRep(r rep.Rep) {
	rec := RepRecord{Rep: r, Set: s.sched.Set(), Time: s.clock.Now()}
	s.reps = append(s.reps, rec)
	s.metrics.Rep(s.def.Name, string(r.Side), r.Counted, r.Span)
	if !r.Counted {
		s.log.Debug("rep rejected", "side", r.Side, "span", r.Span, "min", s.def.MinValidRange)
		s.emit(Event{Kind: RepRejected, Set: rec.Set, Rep: &rec})
		return
	}
	s.log.Debug("rep completed", "side", r.Side, "index", r.Index, "span", r.Span)
	s.emit(Event{Kind: RepCompleted, Set: rec.Set, Rep: &rec})
	s.presenter.Cue(CueRep)
}

func (s *Session) completeSet() {
	finished := s.sched.Set()
	tr, ok := s.sched.CompleteSet()
	if !ok {
		return
	}
	s.setsCompleted++
	s.metrics.SetCompleted(s.def.Name)
	s.log.Info("set completed", "set", finished, "of", s.cfg.TargetSets)
	s.emit(Event{Kind: SetCompleted, Set: finished})
	s.presenter.Cue(CueSetComplete)

	switch {
	case tr.To == schedule.Complete:
		s.status = StatusCompleted
		s.endedAt = s.clock.Now()
		s.metrics.Session(string(StatusCompleted))
		s.log.Info("exercise completed", "reps", s.countedReps())
		s.emit(Event{Kind: ExerciseCompleted, Set: finished})
		s.presenter.Cue(CueExerciseComplete)
	case tr.To == schedule.Resting:
		s.emit(Event{Kind: RestTick, Set: finished, Remaining: tr.Remaining})
	case tr.NewSet:
		s.beginSet(tr.Set)
	}
}

func (s *Session) emit(e Event) {
	e.Time = s.clock.Now()
	e.Exercise = s.def.Name
	s.presenter.Event(e)
}

func (s *Session) publish() {
	s.presenter.Snapshot(s.Snapshot())
}

// Snapshot returns the current progress.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Exercise:   s.def.Name,
		Time:       s.clock.Now(),
		State:      s.sched.State(),
		Set:        s.sched.Set(),
		TargetSets: s.sched.TargetSets(),
		Sides:      make([]SideSnapshot, 0, len(s.trackers)),
	}
	switch snap.State {
	case schedule.Countdown:
		snap.CountdownRemaining = s.sched.Remaining()
	case schedule.Resting:
		snap.RestRemaining, snap.RestTotal, _ = s.sched.RestWindow()
	}
	for _, t := range s.trackers {
		phase := t.counter.Phase()
		snap.Sides = append(snap.Sides, SideSnapshot{
			Side:         t.side,
			Visible:      t.visible,
			Angle:        t.angle,
			Phase:        phase,
			Instruction:  s.def.Instructions.For(phase),
			RangePercent: t.counter.Progress(),
			Reps:         t.counter.Count(),
			TargetReps:   t.counter.Target(),
		})
	}
	return snap
}

// Summary is the outcome of a session.
type Summary struct {
	Exercise      string      `json:"exercise"`
	Side          Mode        `json:"side"`
	Status        Status      `json:"status"`
	StartedAt     time.Time   `json:"started_at"`
	EndedAt       time.Time   `json:"ended_at,omitzero"`
	TargetReps    int         `json:"target_reps"`
	TargetSets    int         `json:"target_sets"`
	SetsCompleted int         `json:"sets_completed"`
	Reps          []RepRecord `json:"reps"`
}

// Summary returns the session outcome so far, including rejected reps.
func (s *Session) Summary() Summary {
	return Summary{
		Exercise:      s.def.Name,
		Side:          s.cfg.Side,
		Status:        s.status,
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
		TargetReps:    s.cfg.TargetReps,
		TargetSets:    s.cfg.TargetSets,
		SetsCompleted: s.setsCompleted,
		Reps:          append([]RepRecord(nil), s.reps...),
	}
}

func (s *Session) countedReps() int {
	n := 0
	for _, r := range s.reps {
		if r.Counted {
			n++
		}
	}
	return n
}
