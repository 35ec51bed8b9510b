package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meltforce/rehabreps/internal/history"
	"github.com/meltforce/rehabreps/internal/models"
)

var _ history.Store = (*DB)(nil)

const sessionColumns = `id, user_id, exercise, side, status, started_at, ended_at,
	 target_reps, target_sets, sets_completed, reps_counted, reps_rejected,
	 mean_range, stddev_range, best_range, mean_quality`

// SaveSession upserts a session row and replaces its reps in one transaction.
// A restarted session keeps its ID, so the newer run overwrites the older one.
func (db *DB) SaveSession(ctx context.Context, row models.SessionRow, reps []models.RepRow) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning session save: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO exercise_sessions (`+sessionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at,
			sets_completed = EXCLUDED.sets_completed, reps_counted = EXCLUDED.reps_counted,
			reps_rejected = EXCLUDED.reps_rejected, mean_range = EXCLUDED.mean_range,
			stddev_range = EXCLUDED.stddev_range, best_range = EXCLUDED.best_range,
			mean_quality = EXCLUDED.mean_quality`,
		row.ID, row.UserID, row.Exercise, row.Side, row.Status, row.StartedAt, row.EndedAt,
		row.TargetReps, row.TargetSets, row.SetsCompleted, row.RepsCounted, row.RepsRejected,
		row.MeanRange, row.StdDevRange, row.BestRange, row.MeanQuality)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM exercise_reps WHERE session_id = $1`, row.ID); err != nil {
		return fmt.Errorf("clearing session reps: %w", err)
	}

	if len(reps) > 0 {
		query := `INSERT INTO exercise_reps (session_id, seq, set_number, side, rep_index,
			min_angle, max_angle, range_deg, quality, counted, completed_at) VALUES `
		args := make([]any, 0, len(reps)*11)
		valueStrings := make([]string, 0, len(reps))
		for i, r := range reps {
			base := i * 11
			valueStrings = append(valueStrings, fmt.Sprintf(
				"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6,
				base+7, base+8, base+9, base+10, base+11,
			))
			args = append(args, row.ID, r.Seq, r.SetNumber, r.Side, r.RepIndex,
				r.MinAngle, r.MaxAngle, r.RangeDeg, r.Quality, r.Counted, r.CompletedAt)
		}
		query += strings.Join(valueStrings, ",")
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting session reps: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing session save: %w", err)
	}
	return nil
}

// QuerySessions retrieves a user's sessions, newest first.
func (db *DB) QuerySessions(ctx context.Context, q models.SessionQuery) ([]models.SessionRow, error) {
	query, args := buildSessionQuery(q)
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var result []models.SessionRow
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// GetSession retrieves one session with its reps in recording order.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exercise_sessions WHERE id = $1 AND user_id = $2`,
		id, userID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, history.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT seq, set_number, side, rep_index, min_angle, max_angle, range_deg, quality, counted, completed_at
		 FROM exercise_reps WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying session reps: %w", err)
	}
	defer rows.Close()

	detail := &models.SessionDetail{SessionRow: s}
	for rows.Next() {
		r := models.RepRow{SessionID: id}
		if err := rows.Scan(&r.Seq, &r.SetNumber, &r.Side, &r.RepIndex, &r.MinAngle, &r.MaxAngle,
			&r.RangeDeg, &r.Quality, &r.Counted, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning session rep: %w", err)
		}
		detail.Reps = append(detail.Reps, r)
	}
	return detail, rows.Err()
}

// buildSessionQuery renders the filters of q as positional SQL arguments.
func buildSessionQuery(q models.SessionQuery) (string, []any) {
	query := `SELECT ` + sessionColumns + ` FROM exercise_sessions WHERE user_id = $1`
	args := []any{q.UserID}
	if !q.Start.IsZero() {
		args = append(args, q.Start)
		query += fmt.Sprintf(" AND started_at >= $%d", len(args))
	}
	if !q.End.IsZero() {
		args = append(args, q.End)
		query += fmt.Sprintf(" AND started_at < $%d", len(args))
	}
	if q.Exercise != "" {
		args = append(args, q.Exercise)
		query += fmt.Sprintf(" AND exercise = $%d", len(args))
	}
	query += " ORDER BY started_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func scanSession(row pgx.Row) (models.SessionRow, error) {
	var s models.SessionRow
	err := row.Scan(&s.ID, &s.UserID, &s.Exercise, &s.Side, &s.Status, &s.StartedAt, &s.EndedAt,
		&s.TargetReps, &s.TargetSets, &s.SetsCompleted, &s.RepsCounted, &s.RepsRejected,
		&s.MeanRange, &s.StdDevRange, &s.BestRange, &s.MeanQuality)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scanning session: %w", err)
	}
	return s, nil
}
