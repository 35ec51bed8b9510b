// Package exercise holds exercise definitions: which landmarks form the
// tracked joint and how its angle is turned into reps.
package exercise

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/meltforce/rehabreps/internal/angle"
	"github.com/meltforce/rehabreps/internal/pose"
	"github.com/meltforce/rehabreps/internal/rep"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinYAML []byte

// ErrUnknown is returned when an exercise name is not in the catalog.
var ErrUnknown = errors.New("unknown exercise")

var (
	// ErrMissingLandmark means the frame lacks the tracked set or a landmark is below the score floor.
	ErrMissingLandmark = errors.New("missing landmark")
	// ErrDegenerate means two landmarks of the joint coincide; the angle reads as 0.
	ErrDegenerate = errors.New("degenerate joint geometry")
)

// Joint is a resolved landmark triple; the angle is measured at Vertex.
type Joint struct {
	Topology   pose.Topology `json:"topology"`
	Handedness string        `json:"handedness,omitempty"`
	A          int           `json:"a"`
	Vertex     int           `json:"vertex"`
	B          int           `json:"b"`
}

// Measure computes the joint angle in frame f. A missing landmark returns
// ErrMissingLandmark; degenerate geometry returns 0 with ErrDegenerate.
func (j Joint) Measure(f pose.Frame, axes angle.Axes, minScore float64) (float64, error) {
	set, ok := f.Find(j.Topology, j.Handedness)
	if !ok {
		return 0, fmt.Errorf("%w: no %s set", ErrMissingLandmark, j.Topology)
	}
	var pts [3]pose.Landmark
	for i, idx := range [3]int{j.A, j.Vertex, j.B} {
		l, ok := set.Point(idx, minScore)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingLandmark, pose.Name(j.Topology, idx))
		}
		pts[i] = l
	}
	deg, ok := angle.Between(pts[0], pts[1], pts[2], axes)
	if !ok {
		return 0, ErrDegenerate
	}
	return deg, nil
}

// Instructions are the phase prompts shown while a side counts.
type Instructions struct {
	Idle      string `yaml:"idle" json:"idle"`
	Started   string `yaml:"started" json:"started"`
	Moved     string `yaml:"moved" json:"moved"`
	Completed string `yaml:"completed" json:"completed"`
}

// For returns the prompt for a counter phase.
func (in Instructions) For(p rep.Phase) string {
	switch p {
	case rep.Started:
		return in.Started
	case rep.Moved:
		return in.Moved
	case rep.Completed:
		return in.Completed
	}
	return in.Idle
}

// Definition parameterizes the counting engine for one exercise.
type Definition struct {
	Name        string             `json:"name"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Joints      map[rep.Side]Joint `json:"joints"`
	Axes        angle.Axes         `json:"axes"`
	Direction   rep.Direction      `json:"direction"`
	Low         float64            `json:"low"`
	High        float64            `json:"high"`
	IdealRange  float64            `json:"ideal_range"`
	// MinValidRange is the quality gate; zero leaves it off.
	MinValidRange float64 `json:"min_valid_range"`
	Alpha         float64 `json:"alpha"`
	// Seed is the smoother's initial value; nil primes from the first sample.
	Seed         *float64     `json:"seed,omitempty"`
	RestSeconds  int          `json:"rest_seconds"`
	Instructions Instructions `json:"instructions"`
}

// Sides lists the sides the exercise can track, left before right.
func (d *Definition) Sides() []rep.Side {
	var out []rep.Side
	for _, s := range []rep.Side{rep.Left, rep.Right, rep.Single} {
		if _, ok := d.Joints[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Bilateral reports whether both left and right are defined.
func (d *Definition) Bilateral() bool {
	_, l := d.Joints[rep.Left]
	_, r := d.Joints[rep.Right]
	return l && r
}

// Joint returns the landmark triple for a side.
func (d *Definition) Joint(side rep.Side) (Joint, bool) {
	j, ok := d.Joints[side]
	return j, ok
}

// CounterConfig builds the rep counter configuration for a target rep count.
func (d *Definition) CounterConfig(target int) rep.Config {
	return rep.Config{
		Low:           d.Low,
		High:          d.High,
		Direction:     d.Direction,
		Target:        target,
		IdealRange:    d.IdealRange,
		MinValidRange: d.MinValidRange,
	}
}

// Validate checks that the definition can count reps.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Joints) == 0 {
		return fmt.Errorf("%s: at least one joint is required", d.Name)
	}
	if _, single := d.Joints[rep.Single]; single && len(d.Joints) > 1 {
		return fmt.Errorf("%s: single joint cannot be combined with left/right", d.Name)
	}
	if err := d.CounterConfig(0).Validate(); err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	if d.IdealRange <= 0 {
		return fmt.Errorf("%s: ideal_range must be positive", d.Name)
	}
	if d.RestSeconds < 0 {
		return fmt.Errorf("%s: rest_seconds must not be negative", d.Name)
	}
	return nil
}

// Catalog is an immutable set of definitions keyed by name.
type Catalog struct {
	defs  map[string]*Definition
	names []string
}

// Builtin returns the catalog embedded in the binary.
func Builtin() (*Catalog, error) {
	return Load(builtinYAML)
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var raw catalogFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	c := &Catalog{defs: make(map[string]*Definition, len(raw.Exercises))}
	for i, e := range raw.Exercises {
		d, err := e.resolve()
		if err != nil {
			return nil, fmt.Errorf("exercise %d: %w", i, err)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("exercise %d: %w", i, err)
		}
		if _, dup := c.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate exercise %q", d.Name)
		}
		c.defs[d.Name] = d
		c.names = append(c.names, d.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Get returns the named definition or ErrUnknown.
func (c *Catalog) Get(name string) (*Definition, error) {
	d, ok := c.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return d, nil
}

// List returns all definitions sorted by name.
func (c *Catalog) List() []*Definition {
	out := make([]*Definition, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.defs[n])
	}
	return out
}

type catalogFile struct {
	Exercises []exerciseYAML `yaml:"exercises"`
}

type jointYAML struct {
	Handedness string `yaml:"handedness"`
	A          string `yaml:"a"`
	Vertex     string `yaml:"vertex"`
	B          string `yaml:"b"`
}

type exerciseYAML struct {
	Name          string               `yaml:"name"`
	Title         string               `yaml:"title"`
	Description   string               `yaml:"description"`
	Topology      string               `yaml:"topology"`
	Joints        map[string]jointYAML `yaml:"joints"`
	Axes          string               `yaml:"axes"`
	Direction     string               `yaml:"direction"`
	Low           float64              `yaml:"low"`
	High          float64              `yaml:"high"`
	IdealRange    float64              `yaml:"ideal_range"`
	MinValidRange float64              `yaml:"min_valid_range"`
	Alpha         float64              `yaml:"alpha"`
	Seed          *float64             `yaml:"seed"`
	RestSeconds   int                  `yaml:"rest_seconds"`
	Instructions  Instructions         `yaml:"instructions"`
}

func (e exerciseYAML) resolve() (*Definition, error) {
	topology := pose.Topology(e.Topology)
	if topology == "" {
		topology = pose.Body
	}
	axes, ok := angle.ParseAxes(e.Axes)
	if !ok {
		return nil, fmt.Errorf("%s: unknown axes %q", e.Name, e.Axes)
	}
	dir, err := rep.ParseDirection(e.Direction)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	alpha := e.Alpha
	if alpha == 0 {
		alpha = angle.DefaultAlpha
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%s: alpha %.2f outside (0,1]", e.Name, alpha)
	}

	d := &Definition{
		Name:          e.Name,
		Title:         e.Title,
		Description:   e.Description,
		Joints:        make(map[rep.Side]Joint, len(e.Joints)),
		Axes:          axes,
		Direction:     dir,
		Low:           e.Low,
		High:          e.High,
		IdealRange:    e.IdealRange,
		MinValidRange: e.MinValidRange,
		Alpha:         alpha,
		Seed:          e.Seed,
		RestSeconds:   e.RestSeconds,
		Instructions:  e.Instructions,
	}
	if d.Title == "" {
		d.Title = d.Name
	}
	for sideName, jy := range e.Joints {
		side := rep.Side(sideName)
		if side != rep.Left && side != rep.Right && side != rep.Single {
			return nil, fmt.Errorf("%s: unknown side %q", e.Name, sideName)
		}
		j := Joint{Topology: topology, Handedness: jy.Handedness}
		for _, f := range []struct {
			name string
			dst  *int
		}{{jy.A, &j.A}, {jy.Vertex, &j.Vertex}, {jy.B, &j.B}} {
			idx, ok := pose.Index(topology, f.name)
			if !ok {
				return nil, fmt.Errorf("%s: unknown %s landmark %q", e.Name, topology, f.name)
			}
			*f.dst = idx
		}
		d.Joints[side] = j
	}
	return d, nil
}
