// Package history turns finished sessions into persisted rows and summary statistics.
package history

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/models"
	"github.com/meltforce/rehabreps/internal/session"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNotFound is returned by stores when a session does not exist for the user.
var ErrNotFound = errors.New("session not found")

// Store persists finished sessions.
type Store interface {
	SaveSession(ctx context.Context, row models.SessionRow, reps []models.RepRow) error
	QuerySessions(ctx context.Context, q models.SessionQuery) ([]models.SessionRow, error)
	GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error)
}

// Stats summarizes the reps of one session.
type Stats struct {
	Counted     int     `json:"counted"`
	Rejected    int     `json:"rejected"`
	MeanRange   float64 `json:"mean_range"`
	StdDevRange float64 `json:"stddev_range"`
	BestRange   float64 `json:"best_range"`
	MeanQuality float64 `json:"mean_quality"`
}

// Summarize computes statistics over counted reps; rejected reps are only tallied.
func Summarize(reps []session.RepRecord) Stats {
	var st Stats
	ranges := make([]float64, 0, len(reps))
	quality := make([]float64, 0, len(reps))
	for _, r := range reps {
		if !r.Counted {
			st.Rejected++
			continue
		}
		ranges = append(ranges, r.Span)
		quality = append(quality, r.Quality)
	}
	st.Counted = len(ranges)
	if st.Counted == 0 {
		return st
	}
	st.MeanRange, st.StdDevRange = stat.MeanStdDev(ranges, nil)
	if st.Counted == 1 || math.IsNaN(st.StdDevRange) {
		st.StdDevRange = 0
	}
	st.BestRange = floats.Max(ranges)
	st.MeanQuality = stat.Mean(quality, nil)
	return st
}

// Rows converts a session summary into storage rows.
func Rows(id uuid.UUID, userID int, sum session.Summary) (models.SessionRow, []models.RepRow) {
	st := Summarize(sum.Reps)
	row := models.SessionRow{
		ID:            id,
		UserID:        userID,
		Exercise:      sum.Exercise,
		Side:          string(sum.Side),
		Status:        string(sum.Status),
		StartedAt:     sum.StartedAt,
		TargetReps:    sum.TargetReps,
		TargetSets:    sum.TargetSets,
		SetsCompleted: sum.SetsCompleted,
		RepsCounted:   st.Counted,
		RepsRejected:  st.Rejected,
		MeanRange:     st.MeanRange,
		StdDevRange:   st.StdDevRange,
		BestRange:     st.BestRange,
		MeanQuality:   st.MeanQuality,
	}
	if !sum.EndedAt.IsZero() {
		ended := sum.EndedAt
		row.EndedAt = &ended
	}

	reps := make([]models.RepRow, 0, len(sum.Reps))
	for i, r := range sum.Reps {
		reps = append(reps, models.RepRow{
			SessionID:   id,
			Seq:         i + 1,
			SetNumber:   r.Set,
			Side:        string(r.Side),
			RepIndex:    r.Index,
			MinAngle:    r.Range.Min,
			MaxAngle:    r.Range.Max,
			RangeDeg:    r.Span,
			Quality:     r.Quality,
			Counted:     r.Counted,
			CompletedAt: r.Time,
		})
	}
	return row, reps
}
