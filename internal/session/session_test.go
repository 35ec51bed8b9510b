package session

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/meltforce/rehabreps/internal/angle"
	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/metrics"
	"github.com/meltforce/rehabreps/internal/pose"
	"github.com/meltforce/rehabreps/internal/rep"
	"github.com/meltforce/rehabreps/internal/schedule"
	"github.com/meltforce/rehabreps/internal/timeutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// curlDef is a bilateral rest-high exercise with smoothing disabled, so fed
// angles reach the counter unchanged.
func curlDef() *exercise.Definition {
	return &exercise.Definition{
		Name: "curl",
		Joints: map[rep.Side]exercise.Joint{
			rep.Left:  {Topology: pose.Body, A: pose.LeftShoulder, Vertex: pose.LeftElbow, B: pose.LeftWrist},
			rep.Right: {Topology: pose.Body, A: pose.RightShoulder, Vertex: pose.RightElbow, B: pose.RightWrist},
		},
		Axes:        angle.AxesXY,
		Direction:   rep.RestHigh,
		Low:         100,
		High:        160,
		IdealRange:  80,
		Alpha:       1,
		RestSeconds: 10,
		Instructions: exercise.Instructions{
			Idle: "straighten", Started: "curl", Moved: "lower", Completed: "done",
		},
	}
}

// placeJoint positions a, vertex and b so the angle at vertex is deg.
func placeJoint(pts []pose.Landmark, a, vertex, b int, deg float64) {
	phi := (deg - 90) * math.Pi / 180
	pts[a] = pose.Landmark{X: 0.5, Y: 0.3, Score: 1}
	pts[vertex] = pose.Landmark{X: 0.5, Y: 0.5, Score: 1}
	pts[b] = pose.Landmark{X: 0.5 + 0.2*math.Cos(phi), Y: 0.5 + 0.2*math.Sin(phi), Score: 1}
}

// armsFrame builds a body frame with the given elbow angles; NaN leaves the side undetected.
func armsFrame(left, right float64) pose.Frame {
	pts := make([]pose.Landmark, pose.NumBodyLandmarks)
	if !math.IsNaN(left) {
		placeJoint(pts, pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist, left)
	}
	if !math.IsNaN(right) {
		placeJoint(pts, pose.RightShoulder, pose.RightElbow, pose.RightWrist, right)
	}
	return pose.Frame{Time: epoch, Sets: []pose.Set{{Topology: pose.Body, Points: pts}}}
}

func feedBoth(s *Session, left, right []float64) {
	for i := range left {
		s.HandleFrame(armsFrame(left[i], right[i]))
	}
}

func feedLeft(s *Session, angles ...float64) {
	for _, a := range angles {
		s.HandleFrame(armsFrame(a, 170))
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestSession(t *testing.T, def *exercise.Definition, cfg Config) (*Session, *Buffer, *timeutil.ManualClock) {
	t.Helper()
	clock := timeutil.NewManualClock(epoch)
	buf := NewBuffer(1000)
	s := New(def, cfg, Options{Clock: clock, Presenter: buf})
	return s, buf, clock
}

// advance moves the clock one tick interval at a time and drains ready ticks.
func advance(clock *timeutil.ManualClock, s *Session, seconds int) int {
	n := 0
	for i := 0; i < seconds; i++ {
		clock.Advance(schedule.TickInterval)
		n += s.Poll()
	}
	return n
}

// TestBothSidesOneRepEach verifies interleaved [170,170,90,170] on both sides
// counts one rep per side and then completes the set.
func TestBothSidesOneRepEach(t *testing.T) {
	s, buf, _ := newTestSession(t, curlDef(), Config{
		Side: ModeBoth, TargetReps: 1, TargetSets: 1, CountdownSeconds: Seconds(0),
	})
	s.Start()
	seq := []float64{170, 170, 90, 170}
	feedBoth(s, seq, seq)

	want := []EventKind{SetStarted, RepCompleted, RepCompleted, SetCompleted, ExerciseCompleted}
	if diff := cmp.Diff(want, kinds(buf.Events())); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	var sides []rep.Side
	for _, e := range buf.Events() {
		if e.Kind != RepCompleted {
			continue
		}
		sides = append(sides, e.Rep.Side)
		if math.Abs(e.Rep.Span-80) > 1e-6 {
			t.Errorf("%s span = %v, want 80", e.Rep.Side, e.Rep.Span)
		}
		if e.Rep.Index != 1 || e.Rep.Set != 1 {
			t.Errorf("%s index/set = %d/%d, want 1/1", e.Rep.Side, e.Rep.Index, e.Rep.Set)
		}
	}
	if diff := cmp.Diff([]rep.Side{rep.Left, rep.Right}, sides); diff != "" {
		t.Errorf("rep sides mismatch (-want +got):\n%s", diff)
	}
	if s.State() != schedule.Complete {
		t.Errorf("state = %v, want complete", s.State())
	}
	if sum := s.Summary(); sum.Status != StatusCompleted || sum.SetsCompleted != 1 || len(sum.Reps) != 2 {
		t.Errorf("summary = %+v", sum)
	}
}

// TestBothWaitsForSlowerSide verifies the set only completes once both sides reach target.
func TestBothWaitsForSlowerSide(t *testing.T) {
	s, buf, _ := newTestSession(t, curlDef(), Config{
		Side: ModeBoth, TargetReps: 1, TargetSets: 1, CountdownSeconds: Seconds(0),
	})
	s.Start()
	feedBoth(s, []float64{170, 90, 170}, []float64{170, 170, 90})
	for _, e := range buf.Events() {
		if e.Kind == SetCompleted {
			t.Fatal("set completed with one side short")
		}
	}
	snap := s.Snapshot()
	if snap.Sides[0].Phase != rep.Completed || snap.Sides[1].Phase != rep.Moved {
		t.Errorf("phases = %v/%v, want completed/moved", snap.Sides[0].Phase, snap.Sides[1].Phase)
	}
	if snap.Sides[0].Instruction != "done" || snap.Sides[1].Instruction != "lower" {
		t.Errorf("instructions = %q/%q", snap.Sides[0].Instruction, snap.Sides[1].Instruction)
	}

	s.HandleFrame(armsFrame(170, 170))
	if s.State() != schedule.Complete {
		t.Errorf("state = %v, want complete", s.State())
	}
}

// TestRestBetweenSets verifies 3 reps end set 1 with a rest of RestSeconds, after
// which set 2 starts with cleared counts; the last set completes without rest.
func TestRestBetweenSets(t *testing.T) {
	s, buf, clock := newTestSession(t, curlDef(), Config{
		Side: ModeLeft, TargetReps: 3, TargetSets: 2, RestSeconds: Seconds(10), CountdownSeconds: Seconds(0),
	})
	s.Start()
	threeReps := []float64{170, 90, 170, 170, 90, 170, 170, 90, 170}
	feedLeft(s, threeReps...)

	if s.State() != schedule.Resting {
		t.Fatalf("state = %v, want resting", s.State())
	}
	snap := s.Snapshot()
	if snap.RestRemaining != 10 || snap.RestTotal != 10 {
		t.Errorf("rest window = %d/%d, want 10/10", snap.RestRemaining, snap.RestTotal)
	}

	// Frames during rest move nothing.
	feedLeft(s, 170, 90, 170)
	if got := s.Snapshot().Sides[0].Reps; got != 3 {
		t.Errorf("reps during rest = %d, want 3", got)
	}

	if n := advance(clock, s, 9); n != 9 {
		t.Fatalf("handled %d ticks, want 9", n)
	}
	if got := s.Snapshot().RestRemaining; got != 1 {
		t.Errorf("rest remaining = %d, want 1", got)
	}
	advance(clock, s, 1)
	snap = s.Snapshot()
	if snap.State != schedule.Active || snap.Set != 2 || snap.Sides[0].Reps != 0 {
		t.Fatalf("after rest: state=%v set=%d reps=%d, want active/2/0", snap.State, snap.Set, snap.Sides[0].Reps)
	}

	feedLeft(s, threeReps...)
	if s.State() != schedule.Complete {
		t.Fatalf("state = %v, want complete", s.State())
	}
	if n := clock.Tickers(); n != 0 {
		t.Errorf("live tickers = %d, want 0", n)
	}

	var restTicks []int
	for _, e := range buf.Events() {
		if e.Kind == RestTick {
			restTicks = append(restTicks, e.Remaining)
		}
	}
	want := []int{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	if diff := cmp.Diff(want, restTicks); diff != "" {
		t.Errorf("rest ticks mismatch (-want +got):\n%s", diff)
	}
	cues := buf.Cues()
	if cues[len(cues)-1] != CueExerciseComplete {
		t.Errorf("last cue = %q, want exercise_complete", cues[len(cues)-1])
	}
}

// TestCountdownGatesCounting verifies reps are not counted until the countdown ends.
func TestCountdownGatesCounting(t *testing.T) {
	s, buf, clock := newTestSession(t, curlDef(), Config{
		Side: ModeLeft, TargetReps: 2, TargetSets: 1, CountdownSeconds: Seconds(3),
	})
	s.Start()
	feedLeft(s, 170, 90, 170)
	if got := s.Snapshot().Sides[0].Reps; got != 0 {
		t.Fatalf("reps during countdown = %d, want 0", got)
	}
	if got := s.Snapshot().CountdownRemaining; got != 3 {
		t.Errorf("countdown remaining = %d, want 3", got)
	}

	advance(clock, s, 3)
	want := []EventKind{CountdownTick, CountdownTick, CountdownTick, SetStarted}
	if diff := cmp.Diff(want, kinds(buf.Events())); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	wantCues := []Cue{CueCountdown, CueCountdown, CueCountdown, CueGo}
	if diff := cmp.Diff(wantCues, buf.Cues()); diff != "" {
		t.Errorf("cues mismatch (-want +got):\n%s", diff)
	}

	feedLeft(s, 170, 90, 170)
	if got := s.Snapshot().Sides[0].Reps; got != 1 {
		t.Errorf("reps after countdown = %d, want 1", got)
	}
}

// TestAbortMidRestLeavesNoTimer verifies that after aborting during rest and
// restarting, letting the old rest duration elapse changes nothing.
func TestAbortMidRestLeavesNoTimer(t *testing.T) {
	s, buf, clock := newTestSession(t, curlDef(), Config{
		Side: ModeLeft, TargetReps: 1, TargetSets: 3, RestSeconds: Seconds(10), CountdownSeconds: Seconds(0),
	})
	s.Start()
	feedLeft(s, 170, 90, 170)
	advance(clock, s, 4)
	if s.State() != schedule.Resting {
		t.Fatalf("state = %v, want resting", s.State())
	}

	s.Abort()
	s.Abort()
	if sum := s.Summary(); sum.Status != StatusAborted {
		t.Errorf("status = %v, want aborted", sum.Status)
	}
	aborted := 0
	for _, e := range buf.Events() {
		if e.Kind == SessionAborted {
			aborted++
		}
	}
	if aborted != 1 {
		t.Errorf("session_aborted events = %d, want 1", aborted)
	}

	s.Start()
	before := len(buf.Events())
	if n := advance(clock, s, 10); n != 0 {
		t.Fatalf("handled %d stray ticks after restart", n)
	}
	if got := len(buf.Events()); got != before {
		t.Errorf("events after restart = %v", kinds(buf.Events()[before:]))
	}
	snap := s.Snapshot()
	if snap.State != schedule.Active || snap.Set != 1 || snap.Sides[0].Reps != 0 {
		t.Errorf("after restart: state=%v set=%d reps=%d, want active/1/0", snap.State, snap.Set, snap.Sides[0].Reps)
	}
	if n := clock.Tickers(); n != 0 {
		t.Errorf("live tickers = %d, want 0", n)
	}
}

// TestQualityGateRejectsShallowReps verifies a shallow cycle is reported but not
// counted and does not leak its range into the next cycle.
func TestQualityGateRejectsShallowReps(t *testing.T) {
	def := curlDef()
	def.MinValidRange = 100
	s, buf, _ := newTestSession(t, def, Config{
		Side: ModeLeft, TargetReps: 2, TargetSets: 1, CountdownSeconds: Seconds(0),
	})
	s.Start()
	feedLeft(s, 170, 95, 170)
	feedLeft(s, 170, 60, 170)

	var got []EventKind
	var spans []float64
	for _, e := range buf.Events() {
		if e.Rep != nil {
			got = append(got, e.Kind)
			spans = append(spans, e.Rep.Span)
		}
	}
	if diff := cmp.Diff([]EventKind{RepRejected, RepCompleted}, got); diff != "" {
		t.Fatalf("rep events mismatch (-want +got):\n%s", diff)
	}
	if math.Abs(spans[0]-75) > 1e-6 || math.Abs(spans[1]-110) > 1e-6 {
		t.Errorf("spans = %v, want [75 110]", spans)
	}
	if reps := s.Snapshot().Sides[0].Reps; reps != 1 {
		t.Errorf("counted reps = %d, want 1", reps)
	}
}

// TestMissingLandmarksSkipSide verifies an occluded side is skipped without
// disturbing the other one.
func TestMissingLandmarksSkipSide(t *testing.T) {
	m := metrics.NewTestManager()
	clock := timeutil.NewManualClock(epoch)
	s := New(curlDef(), Config{Side: ModeBoth, TargetReps: 1, TargetSets: 1, CountdownSeconds: Seconds(0)},
		Options{Clock: clock, Metrics: m})
	s.Start()

	nan := math.NaN()
	feedBoth(s, []float64{170, 90, 170}, []float64{nan, nan, nan})
	snap := s.Snapshot()
	if snap.Sides[0].Reps != 1 || !snap.Sides[0].Visible {
		t.Errorf("left = %+v, want 1 rep and visible", snap.Sides[0])
	}
	if snap.Sides[1].Visible || snap.Sides[1].Phase != rep.Idle {
		t.Errorf("right = %+v, want invisible and idle", snap.Sides[1])
	}
	if got := testutil.ToFloat64(m.CounterSideFaults.WithLabelValues("missing")); got != 3 {
		t.Errorf("missing faults = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.CounterFrames); got != 3 {
		t.Errorf("frames = %v, want 3", got)
	}
}

// TestExtremeDepthKeepsSessionFinite verifies one frame with overflowing
// depth does not poison the smoothed angle or the snapshot encoding.
func TestExtremeDepthKeepsSessionFinite(t *testing.T) {
	def := curlDef()
	def.Axes = angle.AxesAuto
	def.Alpha = 0.5
	s, _, _ := newTestSession(t, def, Config{Side: ModeLeft, TargetReps: 2, TargetSets: 1, CountdownSeconds: Seconds(0)})
	s.Start()

	bad := armsFrame(170, 170)
	pts := bad.Sets[0].Points
	for i, z := range map[int]float64{pose.LeftShoulder: 1e200, pose.LeftElbow: -1e200, pose.LeftWrist: 1e200} {
		pts[i].Z = &z
	}
	s.HandleFrame(bad)
	feedLeft(s, 170, 170, 170, 170, 170, 170, 170, 170, 170, 170)
	feedLeft(s, 90, 90, 90, 90, 90, 90, 90, 90, 90, 90)
	feedLeft(s, 170, 170, 170, 170, 170, 170, 170, 170, 170, 170)

	snap := s.Snapshot()
	if a := snap.Sides[0].Angle; math.IsNaN(a) || a < 0 || a > 180 {
		t.Fatalf("angle = %v, want within [0,180]", a)
	}
	if snap.Sides[0].Reps != 1 {
		t.Errorf("reps = %d, want 1", snap.Sides[0].Reps)
	}
	if _, err := json.Marshal(snap); err != nil {
		t.Errorf("marshal snapshot: %v", err)
	}
}

// TestConfigFallsBackToDefaults verifies invalid configuration is repaired.
func TestConfigFallsBackToDefaults(t *testing.T) {
	s := New(curlDef(), Config{Side: "sideways", TargetReps: -2, TargetSets: 0, RestSeconds: Seconds(-5)}, Options{})
	cfg := s.Config()
	if cfg.TargetReps != DefaultReps || cfg.TargetSets != DefaultSets {
		t.Errorf("reps/sets = %d/%d, want %d/%d", cfg.TargetReps, cfg.TargetSets, DefaultReps, DefaultSets)
	}
	if cfg.Side != ModeBoth {
		t.Errorf("side = %q, want both", cfg.Side)
	}
	if *cfg.RestSeconds != 10 || *cfg.CountdownSeconds != DefaultCountdown {
		t.Errorf("rest/countdown = %d/%d, want 10/%d", *cfg.RestSeconds, *cfg.CountdownSeconds, DefaultCountdown)
	}
	if cfg.MinScore != DefaultMinScore || cfg.Exercise != "curl" {
		t.Errorf("min score/exercise = %v/%q", cfg.MinScore, cfg.Exercise)
	}
	if len(s.Snapshot().Sides) != 2 {
		t.Errorf("tracked sides = %d, want 2", len(s.Snapshot().Sides))
	}
}

// TestSingleJointExercise verifies a one-joint exercise ignores the side choice.
func TestSingleJointExercise(t *testing.T) {
	def := curlDef()
	def.Joints = map[rep.Side]exercise.Joint{rep.Single: def.Joints[rep.Left]}
	s, _, _ := newTestSession(t, def, Config{Side: ModeRight, TargetReps: 1, TargetSets: 1, CountdownSeconds: Seconds(0)})
	if s.Config().Side != ModeSingle {
		t.Errorf("side = %q, want single", s.Config().Side)
	}
	s.Start()
	feedLeft(s, 170, 90, 170)
	if s.State() != schedule.Complete {
		t.Errorf("state = %v, want complete", s.State())
	}
}

// TestSmootherDelaysThresholdCrossing verifies the smoothed angle, not the raw
// one, drives the counter.
func TestSmootherDelaysThresholdCrossing(t *testing.T) {
	def := curlDef()
	def.Alpha = 0.5
	s, _, _ := newTestSession(t, def, Config{Side: ModeLeft, TargetReps: 1, TargetSets: 1, CountdownSeconds: Seconds(0)})
	s.Start()

	// 170 primes; 90 smooths to 130, still outside the active zone.
	feedLeft(s, 170, 90)
	side := s.Snapshot().Sides[0]
	if math.Abs(side.Angle-130) > 1e-6 || side.Phase != rep.Started {
		t.Fatalf("after 170,90: angle=%v phase=%v, want 130/started", side.Angle, side.Phase)
	}
	// 110, then 100 which enters the active zone.
	feedLeft(s, 90, 90)
	if side := s.Snapshot().Sides[0]; math.Abs(side.Angle-100) > 1e-6 || side.Phase != rep.Moved {
		t.Errorf("after 90,90: angle=%v phase=%v, want 100/moved", side.Angle, side.Phase)
	}
}

// TestStartResetsProgress verifies a restart clears reps, summary and set index.
func TestStartResetsProgress(t *testing.T) {
	s, _, _ := newTestSession(t, curlDef(), Config{Side: ModeLeft, TargetReps: 2, TargetSets: 2, CountdownSeconds: Seconds(0)})
	s.Start()
	feedLeft(s, 170, 90, 170)
	s.Start()
	if got := s.Snapshot().Sides[0].Reps; got != 0 {
		t.Errorf("reps after restart = %d, want 0", got)
	}
	if sum := s.Summary(); len(sum.Reps) != 0 || sum.Status != StatusRunning {
		t.Errorf("summary after restart = %+v", sum)
	}
}
