package exercise

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meltforce/rehabreps/internal/angle"
	"github.com/meltforce/rehabreps/internal/pose"
	"github.com/meltforce/rehabreps/internal/rep"
)

// TestBuiltinCatalog verifies the embedded catalog parses and holds every exercise.
func TestBuiltinCatalog(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	want := []string{
		"arm_raise", "bicep_curl", "finger_flexion", "front_raise",
		"head_tilt", "leg_extension", "neck_flexion", "triceps_extension",
	}
	list := c.List()
	if len(list) != len(want) {
		t.Fatalf("len(List()) = %d, want %d", len(list), len(want))
	}
	for i, d := range list {
		if d.Name != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, d.Name, want[i])
		}
	}
}

// TestBuiltinResolvesLandmarks verifies names are resolved to topology indices.
func TestBuiltinResolvesLandmarks(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatal(err)
	}

	curl, err := c.Get("bicep_curl")
	if err != nil {
		t.Fatal(err)
	}
	left, ok := curl.Joint(rep.Left)
	if !ok {
		t.Fatal("bicep_curl has no left joint")
	}
	if left.A != pose.LeftShoulder || left.Vertex != pose.LeftElbow || left.B != pose.LeftWrist {
		t.Errorf("left joint = %+v, want shoulder/elbow/wrist", left)
	}
	if curl.Direction != rep.RestHigh {
		t.Errorf("bicep_curl direction = %v, want rest_high", curl.Direction)
	}
	if !curl.Bilateral() {
		t.Error("bicep_curl not bilateral")
	}

	fingers, _ := c.Get("finger_flexion")
	right, _ := fingers.Joint(rep.Right)
	if right.Topology != pose.Hand || right.Handedness != "Right" || right.B != pose.IndexTip {
		t.Errorf("finger_flexion right = %+v", right)
	}

	neck, _ := c.Get("neck_flexion")
	if sides := neck.Sides(); len(sides) != 1 || sides[0] != rep.Single {
		t.Errorf("neck_flexion sides = %v, want [single]", sides)
	}
	if neck.Bilateral() {
		t.Error("neck_flexion reported bilateral")
	}
}

// TestQualityGateIsPerExercise verifies the gate is on for triceps and off for front raises.
func TestQualityGateIsPerExercise(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatal(err)
	}
	triceps, _ := c.Get("triceps_extension")
	if triceps.MinValidRange != 60 {
		t.Errorf("triceps min_valid_range = %v, want 60", triceps.MinValidRange)
	}
	front, _ := c.Get("front_raise")
	if front.MinValidRange != 0 {
		t.Errorf("front_raise min_valid_range = %v, want 0", front.MinValidRange)
	}
	if front.Axes != angle.AxesYZ {
		t.Errorf("front_raise axes = %v, want yz", front.Axes)
	}
	cfg := triceps.CounterConfig(4)
	if cfg.Target != 4 || cfg.MinValidRange != 60 || cfg.Direction != rep.RestLow {
		t.Errorf("CounterConfig = %+v", cfg)
	}
}

// TestGetUnknown verifies the sentinel error.
func TestGetUnknown(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("jumping_jacks"); !errors.Is(err, ErrUnknown) {
		t.Errorf("Get(unknown) error = %v, want ErrUnknown", err)
	}
}

// TestLoadRejectsInvalid verifies bad catalogs fail with a descriptive error.
func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"inverted thresholds": `
exercises:
  - name: bad
    joints: {left: {a: left_hip, vertex: left_knee, b: left_ankle}}
    low: 150
    high: 90
    ideal_range: 60
`,
		"unknown landmark": `
exercises:
  - name: bad
    joints: {left: {a: left_hip, vertex: left_tail, b: left_ankle}}
    low: 90
    high: 150
    ideal_range: 60
`,
		"unknown side": `
exercises:
  - name: bad
    joints: {middle: {a: left_hip, vertex: left_knee, b: left_ankle}}
    low: 90
    high: 150
    ideal_range: 60
`,
		"single mixed with left": `
exercises:
  - name: bad
    joints:
      single: {a: left_hip, vertex: left_knee, b: left_ankle}
      left: {a: left_hip, vertex: left_knee, b: left_ankle}
    low: 90
    high: 150
    ideal_range: 60
`,
		"unknown direction": `
exercises:
  - name: bad
    joints: {left: {a: left_hip, vertex: left_knee, b: left_ankle}}
    direction: sideways
    low: 90
    high: 150
    ideal_range: 60
`,
		"duplicate": `
exercises:
  - name: twice
    joints: {left: {a: left_hip, vertex: left_knee, b: left_ankle}}
    low: 90
    high: 150
    ideal_range: 60
  - name: twice
    joints: {left: {a: left_hip, vertex: left_knee, b: left_ankle}}
    low: 90
    high: 150
    ideal_range: 60
`,
	}
	for name, doc := range cases {
		if _, err := Load([]byte(doc)); err == nil {
			t.Errorf("%s: Load succeeded, want error", name)
		}
	}
}

// TestLoadFileDefaults verifies omitted fields get their defaults.
func TestLoadFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
exercises:
  - name: squat
    joints: {single: {a: left_hip, vertex: left_knee, b: left_ankle}}
    low: 90
    high: 160
    ideal_range: 70
    seed: 170
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	d, _ := c.Get("squat")
	if d.Alpha != angle.DefaultAlpha {
		t.Errorf("alpha = %v, want %v", d.Alpha, angle.DefaultAlpha)
	}
	if d.Axes != angle.AxesAuto || d.Direction != rep.RestHigh {
		t.Errorf("axes/direction = %v/%v, want auto/rest_high", d.Axes, d.Direction)
	}
	if d.Title != "squat" {
		t.Errorf("title = %q, want name fallback", d.Title)
	}
	if d.Seed == nil || *d.Seed != 170 {
		t.Errorf("seed = %v, want 170", d.Seed)
	}
	if j, _ := d.Joint(rep.Single); j.Topology != pose.Body {
		t.Errorf("topology = %q, want body", j.Topology)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil ||
		!strings.Contains(err.Error(), "reading catalog file") {
		t.Errorf("LoadFile(missing) error = %v", err)
	}
}

func bodyFrame(points map[int]pose.Landmark) pose.Frame {
	pts := make([]pose.Landmark, pose.NumBodyLandmarks)
	for i, p := range points {
		pts[i] = p
	}
	return pose.Frame{Time: time.Unix(0, 0), Sets: []pose.Set{{Topology: pose.Body, Points: pts}}}
}

// TestJointMeasure verifies angle measurement and its two failure modes.
func TestJointMeasure(t *testing.T) {
	j := Joint{Topology: pose.Body, A: pose.LeftShoulder, Vertex: pose.LeftElbow, B: pose.LeftWrist}

	right := bodyFrame(map[int]pose.Landmark{
		pose.LeftShoulder: {X: 0.5, Y: 0.2, Score: 0.9},
		pose.LeftElbow:    {X: 0.5, Y: 0.4, Score: 0.9},
		pose.LeftWrist:    {X: 0.7, Y: 0.4, Score: 0.9},
	})
	got, err := j.Measure(right, angle.AxesAuto, 0.5)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if math.Abs(got-90) > 1e-9 {
		t.Errorf("angle = %v, want 90", got)
	}

	occluded := bodyFrame(map[int]pose.Landmark{
		pose.LeftShoulder: {X: 0.5, Y: 0.2, Score: 0.9},
		pose.LeftElbow:    {X: 0.5, Y: 0.4, Score: 0.1},
		pose.LeftWrist:    {X: 0.7, Y: 0.4, Score: 0.9},
	})
	if _, err := j.Measure(occluded, angle.AxesAuto, 0.5); !errors.Is(err, ErrMissingLandmark) {
		t.Errorf("occluded error = %v, want ErrMissingLandmark", err)
	}
	if _, err := j.Measure(pose.Frame{}, angle.AxesAuto, 0.5); !errors.Is(err, ErrMissingLandmark) {
		t.Errorf("empty frame error = %v, want ErrMissingLandmark", err)
	}

	collapsed := bodyFrame(map[int]pose.Landmark{
		pose.LeftShoulder: {X: 0.5, Y: 0.4, Score: 0.9},
		pose.LeftElbow:    {X: 0.5, Y: 0.4, Score: 0.9},
		pose.LeftWrist:    {X: 0.7, Y: 0.4, Score: 0.9},
	})
	got, err = j.Measure(collapsed, angle.AxesAuto, 0.5)
	if !errors.Is(err, ErrDegenerate) || got != 0 {
		t.Errorf("collapsed = %v, %v, want 0, ErrDegenerate", got, err)
	}
}

// TestInstructionsFor verifies phase prompts map one to one.
func TestInstructionsFor(t *testing.T) {
	in := Instructions{Idle: "i", Started: "s", Moved: "m", Completed: "c"}
	for p, want := range map[rep.Phase]string{rep.Idle: "i", rep.Started: "s", rep.Moved: "m", rep.Completed: "c"} {
		if got := in.For(p); got != want {
			t.Errorf("For(%v) = %q, want %q", p, got, want)
		}
	}
}
