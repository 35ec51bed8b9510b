package session

import (
	"sync"
	"time"

	"github.com/meltforce/rehabreps/internal/rep"
	"github.com/meltforce/rehabreps/internal/schedule"
)

// Presenter receives everything a session publishes. Calls are made from the
// goroutine that drives the session and must not block.
type Presenter interface {
	Snapshot(Snapshot)
	Event(Event)
	Cue(Cue)
}

// EventKind names a progress event.
type EventKind string

const (
	RepCompleted      EventKind = "rep_completed"
	RepRejected       EventKind = "rep_rejected"
	SetStarted        EventKind = "set_started"
	SetCompleted      EventKind = "set_completed"
	CountdownTick     EventKind = "countdown_tick"
	RestTick          EventKind = "rest_tick"
	ExerciseCompleted EventKind = "exercise_completed"
	SessionAborted    EventKind = "session_aborted"
)

// RepRecord is a finished cycle tagged with the set it belongs to.
type RepRecord struct {
	rep.Rep
	Set  int       `json:"set"`
	Time time.Time `json:"time"`
}

// Event is a discrete progress notification.
type Event struct {
	Kind     EventKind `json:"kind"`
	Time     time.Time `json:"time"`
	Exercise string    `json:"exercise"`
	Set      int       `json:"set,omitempty"`
	// Remaining is the countdown or rest seconds left for tick events.
	Remaining int        `json:"remaining,omitempty"`
	Rep       *RepRecord `json:"rep,omitempty"`
}

// Cue is an audio prompt. Playback is the presenter's concern.
type Cue string

const (
	CueCountdown        Cue = "countdown"
	CueGo               Cue = "go"
	CueRep              Cue = "rep"
	CueSetComplete      Cue = "set_complete"
	CueRestOver         Cue = "rest_over"
	CueExerciseComplete Cue = "exercise_complete"
)

// SideSnapshot is the live state of one tracked side.
type SideSnapshot struct {
	Side rep.Side `json:"side"`
	// Visible is false when the last frame lacked this side's landmarks.
	Visible      bool      `json:"visible"`
	Angle        float64   `json:"angle"`
	Phase        rep.Phase `json:"phase"`
	Instruction  string    `json:"instruction"`
	RangePercent float64   `json:"range_percent"`
	Reps         int       `json:"reps"`
	TargetReps   int       `json:"target_reps"`
}

// Snapshot is the progress published after every frame and timer tick.
type Snapshot struct {
	Exercise           string         `json:"exercise"`
	Time               time.Time      `json:"time"`
	State              schedule.State `json:"state"`
	Set                int            `json:"set"`
	TargetSets         int            `json:"target_sets"`
	Sides              []SideSnapshot `json:"sides"`
	CountdownRemaining int            `json:"countdown_remaining,omitempty"`
	RestRemaining      int            `json:"rest_remaining,omitempty"`
	RestTotal          int            `json:"rest_total,omitempty"`
}

// Presenters fans out to several presenters in order.
type Presenters []Presenter

func (ps Presenters) Snapshot(s Snapshot) {
	for _, p := range ps {
		p.Snapshot(s)
	}
}

func (ps Presenters) Event(e Event) {
	for _, p := range ps {
		p.Event(e)
	}
}

func (ps Presenters) Cue(c Cue) {
	for _, p := range ps {
		p.Cue(c)
	}
}

// NopPresenter discards everything.
type NopPresenter struct{}

func (NopPresenter) Snapshot(Snapshot) {}
func (NopPresenter) Event(Event)       {}
func (NopPresenter) Cue(Cue)           {}

// Buffer keeps the latest snapshot and a bounded tail of events and cues.
// It is safe to read from other goroutines while the session writes.
type Buffer struct {
	mu       sync.Mutex
	limit    int
	snapshot Snapshot
	events   []Event
	cues     []Cue
}

// NewBuffer creates a buffer retaining at most limit events and cues.
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = 100
	}
	return &Buffer{limit: limit}
}

func (b *Buffer) Snapshot(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = s
}

func (b *Buffer) Event(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	if len(b.events) > b.limit {
		b.events = append(b.events[:0], b.events[len(b.events)-b.limit:]...)
	}
}

func (b *Buffer) Cue(c Cue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cues = append(b.cues, c)
	if len(b.cues) > b.limit {
		b.cues = append(b.cues[:0], b.cues[len(b.cues)-b.limit:]...)
	}
}

// Latest returns the most recent snapshot.
func (b *Buffer) Latest() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

// Events returns a copy of the retained events, oldest first.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Cues returns a copy of the retained cues, oldest first.
func (b *Buffer) Cues() []Cue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Cue(nil), b.cues...)
}
