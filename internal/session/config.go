package session

import (
	"log/slog"

	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/rep"
)

// Defaults applied when a configuration value is missing or invalid.
const (
	DefaultReps      = 5
	DefaultSets      = 3
	DefaultCountdown = 3
	DefaultMinScore  = 0.5
)

// Mode selects which sides of a bilateral exercise are tracked.
type Mode string

const (
	ModeLeft  Mode = "left"
	ModeRight Mode = "right"
	ModeBoth  Mode = "both"
	// ModeSingle is used for exercises with one joint definition.
	ModeSingle Mode = "single"
)

// Config is the per-session configuration supplied before Start.
// Nil RestSeconds uses the exercise's rest period; nil CountdownSeconds uses DefaultCountdown.
type Config struct {
	Exercise         string  `json:"exercise"`
	Side             Mode    `json:"side"`
	TargetReps       int     `json:"target_reps"`
	TargetSets       int     `json:"target_sets"`
	RestSeconds      *int    `json:"rest_seconds,omitempty"`
	CountdownSeconds *int    `json:"countdown_seconds,omitempty"`
	MinScore         float64 `json:"min_score,omitempty"`
}

// Seconds is a convenience for the optional duration fields.
func Seconds(n int) *int { return &n }

// normalize fills defaults and repairs invalid values, logging each repair.
// It returns the concrete sides to track.
func (c *Config) normalize(def *exercise.Definition, log *slog.Logger) []rep.Side {
	c.Exercise = def.Name
	if c.TargetReps <= 0 {
		if c.TargetReps < 0 {
			log.Warn("invalid target reps, using default", "value", c.TargetReps, "default", DefaultReps)
		}
		c.TargetReps = DefaultReps
	}
	if c.TargetSets <= 0 {
		if c.TargetSets < 0 {
			log.Warn("invalid target sets, using default", "value", c.TargetSets, "default", DefaultSets)
		}
		c.TargetSets = DefaultSets
	}
	if c.RestSeconds == nil || *c.RestSeconds < 0 {
		if c.RestSeconds != nil {
			log.Warn("invalid rest period, using exercise default", "value", *c.RestSeconds, "default", def.RestSeconds)
		}
		c.RestSeconds = Seconds(def.RestSeconds)
	}
	if c.CountdownSeconds == nil || *c.CountdownSeconds < 0 {
		c.CountdownSeconds = Seconds(DefaultCountdown)
	}
	if c.MinScore <= 0 || c.MinScore > 1 {
		c.MinScore = DefaultMinScore
	}

	if !def.Bilateral() {
		if c.Side != "" && c.Side != ModeSingle {
			log.Info("exercise tracks a single joint, ignoring side", "exercise", def.Name, "side", c.Side)
		}
		c.Side = ModeSingle
		return def.Sides()
	}
	switch c.Side {
	case ModeLeft:
		return []rep.Side{rep.Left}
	case ModeRight:
		return []rep.Side{rep.Right}
	case ModeBoth:
	default:
		if c.Side != "" {
			log.Warn("unknown side, tracking both", "side", c.Side)
		}
		c.Side = ModeBoth
	}
	return []rep.Side{rep.Left, rep.Right}
}
