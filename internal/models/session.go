package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionRow is a row of the exercise_sessions table.
type SessionRow struct {
	ID            uuid.UUID  `json:"id"`
	UserID        int        `json:"user_id"`
	Exercise      string     `json:"exercise"`
	Side          string     `json:"side"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at"`
	TargetReps    int        `json:"target_reps"`
	TargetSets    int        `json:"target_sets"`
	SetsCompleted int        `json:"sets_completed"`
	RepsCounted   int        `json:"reps_counted"`
	RepsRejected  int        `json:"reps_rejected"`
	MeanRange     float64    `json:"mean_range"`
	StdDevRange   float64    `json:"stddev_range"`
	BestRange     float64    `json:"best_range"`
	MeanQuality   float64    `json:"mean_quality"`
}

// RepRow is a row of the exercise_reps table. Seq orders reps within a session.
type RepRow struct {
	SessionID   uuid.UUID `json:"-"`
	Seq         int       `json:"seq"`
	SetNumber   int       `json:"set"`
	Side        string    `json:"side"`
	RepIndex    int       `json:"index"`
	MinAngle    float64   `json:"min_angle"`
	MaxAngle    float64   `json:"max_angle"`
	RangeDeg    float64   `json:"range"`
	Quality     float64   `json:"quality"`
	Counted     bool      `json:"counted"`
	CompletedAt time.Time `json:"completed_at"`
}

// SessionDetail is a session with all of its reps.
type SessionDetail struct {
	SessionRow
	Reps []RepRow `json:"reps"`
}

// SessionQuery filters the session history.
type SessionQuery struct {
	UserID   int
	Start    time.Time
	End      time.Time
	Exercise string
	Limit    int
}
