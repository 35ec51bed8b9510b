// Package rep turns a smoothed joint-angle stream into completed repetitions.
package rep

import (
	"fmt"
	"math"
)

// Side identifies a tracked limb.
type Side string

const (
	Left   Side = "left"
	Right  Side = "right"
	Single Side = "single"
)

// Mirror returns the side as it appears in a mirrored (selfie) view.
// Display only: counting always uses raw landmark space.
func (s Side) Mirror() Side {
	switch s {
	case Left:
		return Right
	case Right:
		return Left
	}
	return s
}

// Direction encodes which end of the angle range is the rest position.
type Direction int

const (
	// RestHigh: a rep starts extended (angle >= High), moves below Low and returns.
	RestHigh Direction = iota
	// RestLow: a rep starts flexed (angle <= Low), moves above High and returns.
	RestLow
)

func (d Direction) String() string {
	if d == RestLow {
		return "rest_low"
	}
	return "rest_high"
}

// MarshalText encodes the direction in its catalog spelling.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a catalog spelling.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection maps catalog spellings to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "rest_high", "":
		return RestHigh, nil
	case "rest_low":
		return RestLow, nil
	}
	return RestHigh, fmt.Errorf("unknown direction %q", s)
}

// Phase is the counter's position in the rep cycle.
type Phase int

const (
	// Idle: waiting for the limb to reach the rest zone.
	Idle Phase = iota
	// Started: rest position confirmed, waiting for the active zone.
	Started
	// Moved: active position confirmed, waiting for the return to rest.
	Moved
	// Completed: the side reached its target and no longer counts.
	Completed
)

func (p Phase) String() string {
	switch p {
	case Started:
		return "started"
	case Moved:
		return "moved"
	case Completed:
		return "completed"
	}
	return "idle"
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, v := range []Phase{Idle, Started, Moved, Completed} {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Config parameterizes one counter.
type Config struct {
	Low       float64
	High      float64
	Direction Direction
	// Target is the rep count at which the side stops counting. Zero means unbounded.
	Target int
	// IdealRange is the span (degrees) that scores 100%.
	IdealRange float64
	// MinValidRange rejects completed cycles with a smaller span. Zero disables the gate.
	MinValidRange float64
}

// Validate reports threshold settings that can never complete a rep.
func (c Config) Validate() error {
	if c.Low >= c.High {
		return fmt.Errorf("low threshold %.1f must be below high threshold %.1f", c.Low, c.High)
	}
	if c.Low < 0 || c.High > 180 {
		return fmt.Errorf("thresholds %.1f/%.1f outside [0,180]", c.Low, c.High)
	}
	if c.MinValidRange < 0 {
		return fmt.Errorf("minimum valid range %.1f is negative", c.MinValidRange)
	}
	return nil
}

// Range is the running min/max of the angle since the rep started.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func emptyRange() Range {
	return Range{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Empty reports whether no angle has been folded in yet.
func (r Range) Empty() bool {
	return r.Min > r.Max
}

// Span returns max-min, or 0 for an empty range.
func (r Range) Span() float64 {
	if r.Empty() {
		return 0
	}
	return r.Max - r.Min
}

func (r *Range) add(v float64) {
	r.Min = math.Min(r.Min, v)
	r.Max = math.Max(r.Max, v)
}

// Rep describes one finished cycle.
type Rep struct {
	Side Side `json:"side"`
	// Index is 1-based among counted reps; rejected cycles carry the index they would have had.
	Index   int     `json:"index"`
	Range   Range   `json:"range"`
	Span    float64 `json:"span"`
	Quality float64 `json:"quality"`
	Counted bool    `json:"counted"`
}

// Result reports what a single update did.
type Result struct {
	Phase    Phase
	Changed  bool
	Finished *Rep
}

// Counter is the hysteresis state machine for one side.
type Counter struct {
	side  Side
	cfg   Config
	phase Phase
	count int
	rng   Range
}

// NewCounter creates a counter in the Idle phase.
func NewCounter(side Side, cfg Config) *Counter {
	c := &Counter{side: side, cfg: cfg}
	c.Reset()
	return c
}

// Update feeds one smoothed angle. It is a no-op once the target is reached.
func (c *Counter) Update(angle float64) Result {
	if c.phase == Completed {
		return Result{Phase: c.phase}
	}

	c.rng.add(angle)

	res := Result{Phase: c.phase}
	switch c.phase {
	case Idle:
		if c.inRest(angle) {
			c.phase = Started
			c.rng = Range{Min: angle, Max: angle}
		}
	case Started:
		if c.inActive(angle) {
			c.phase = Moved
		}
	case Moved:
		if c.inRest(angle) {
			res.Finished = c.finish()
		}
	}
	res.Changed = res.Phase != c.phase || res.Finished != nil
	res.Phase = c.phase
	return res
}

func (c *Counter) finish() *Rep {
	span := c.rng.Span()
	r := &Rep{
		Side:    c.side,
		Index:   c.count + 1,
		Range:   c.rng,
		Span:    span,
		Quality: Quality(span, c.cfg.IdealRange),
	}
	if c.cfg.MinValidRange <= 0 || span >= c.cfg.MinValidRange {
		r.Counted = true
		c.count++
	}
	c.rng = emptyRange()
	c.phase = Idle
	if c.cfg.Target > 0 && c.count >= c.cfg.Target {
		c.phase = Completed
	}
	return r
}

func (c *Counter) inRest(angle float64) bool {
	if c.cfg.Direction == RestLow {
		return angle <= c.cfg.Low
	}
	return angle >= c.cfg.High
}

func (c *Counter) inActive(angle float64) bool {
	if c.cfg.Direction == RestLow {
		return angle >= c.cfg.High
	}
	return angle <= c.cfg.Low
}

// Reset clears the count, phase and range.
func (c *Counter) Reset() {
	c.phase = Idle
	c.count = 0
	c.rng = emptyRange()
}

// Side returns the tracked side.
func (c *Counter) Side() Side { return c.side }

// Phase returns the current phase.
func (c *Counter) Phase() Phase { return c.phase }

// Count returns the number of counted reps.
func (c *Counter) Count() int { return c.count }

// Target returns the configured rep target.
func (c *Counter) Target() int { return c.cfg.Target }

// Done reports whether the side reached its target.
func (c *Counter) Done() bool { return c.phase == Completed }

// Range returns the in-progress range.
func (c *Counter) Range() Range { return c.rng }

// Progress returns the in-progress span as a percentage of the ideal range.
func (c *Counter) Progress() float64 {
	return Quality(c.rng.Span(), c.cfg.IdealRange)
}

// Quality scores a span against the ideal range, clamped to [0,100].
func Quality(span, ideal float64) float64 {
	if ideal <= 0 {
		return 0
	}
	return math.Max(0, math.Min(100, span/ideal*100))
}
