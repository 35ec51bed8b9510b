// Package journal records which recordings have been replayed so repeated
// runs of the replay tool skip them.
package journal

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is the outcome of one replay.
type Entry struct {
	Path        string    `json:"path"`
	Hash        string    `json:"hash"`
	Exercise    string    `json:"exercise"`
	Status      string    `json:"status"`
	RepsCounted int       `json:"reps_counted"`
	MeanRange   float64   `json:"mean_range"`
	ReplayedAt  time.Time `json:"replayed_at"`
}

// Journal is a SQLite database of replayed recordings.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal at dir/journal.db.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "journal.db"))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS replays (
		path         TEXT NOT NULL,
		hash         TEXT NOT NULL,
		exercise     TEXT NOT NULL,
		status       TEXT NOT NULL,
		reps_counted INTEGER NOT NULL,
		mean_range   REAL NOT NULL,
		replayed_at  TIMESTAMP NOT NULL,
		PRIMARY KEY (path, hash, exercise)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Lookup returns the recorded replay of path with the given content hash
// and exercise. ok is false when there is none.
func (j *Journal) Lookup(path, hash, exercise string) (e Entry, ok bool, err error) {
	err = j.db.QueryRow(
		`SELECT path, hash, exercise, status, reps_counted, mean_range, replayed_at
		 FROM replays WHERE path = ? AND hash = ? AND exercise = ?`,
		path, hash, exercise,
	).Scan(&e.Path, &e.Hash, &e.Exercise, &e.Status, &e.RepsCounted, &e.MeanRange, &e.ReplayedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("looking up %s: %w", path, err)
	}
	return e, true, nil
}

// Record stores the outcome of a replay, replacing an earlier one.
func (j *Journal) Record(e Entry) error {
	if e.ReplayedAt.IsZero() {
		e.ReplayedAt = time.Now().UTC()
	}
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO replays (path, hash, exercise, status, reps_counted, mean_range, replayed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Path, e.Hash, e.Exercise, e.Status, e.RepsCounted, e.MeanRange, e.ReplayedAt,
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Path, err)
	}
	return nil
}

// List returns every entry, newest first.
func (j *Journal) List() ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT path, hash, exercise, status, reps_counted, mean_range, replayed_at
		 FROM replays ORDER BY replayed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing replays: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.Hash, &e.Exercise, &e.Status, &e.RepsCounted, &e.MeanRange, &e.ReplayedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// HashFile computes the SHA-256 hash of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
