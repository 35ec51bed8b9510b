package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/models"
	"github.com/meltforce/rehabreps/internal/session"
)

const saveTimeout = 5 * time.Second

type saveJob struct {
	row  models.SessionRow
	reps []models.RepRow
}

// Recorder persists sessions when they complete or are aborted. Saving happens
// on the goroutine running Run so session goroutines never wait on the store.
type Recorder struct {
	store Store
	log   *slog.Logger
	queue chan saveJob
}

// NewRecorder creates a recorder with room for buffer pending saves.
func NewRecorder(store Store, log *slog.Logger, buffer int) *Recorder {
	if buffer < 1 {
		buffer = 16
	}
	return &Recorder{store: store, log: log, queue: make(chan saveJob, buffer)}
}

// Run saves queued sessions until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case job := <-r.queue:
			r.save(job)
		case <-ctx.Done():
			for {
				select {
				case job := <-r.queue:
					r.save(job)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (r *Recorder) save(job saveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.store.SaveSession(ctx, job.row, job.reps); err != nil {
		r.log.Error("saving session", "id", job.row.ID, "exercise", job.row.Exercise, "error", err)
		return
	}
	r.log.Info("session saved", "id", job.row.ID, "exercise", job.row.Exercise,
		"status", job.row.Status, "reps", job.row.RepsCounted)
}

func (r *Recorder) enqueue(job saveJob) {
	select {
	case r.queue <- job:
	default:
		r.log.Warn("history queue full, dropping session", "id", job.row.ID)
	}
}

// Hook returns a presenter for one session. On exercise_completed or
// session_aborted it snapshots the summary and queues it for saving.
// summary is called on the session goroutine.
func (r *Recorder) Hook(id uuid.UUID, userID int, summary func() session.Summary) session.Presenter {
	return &hook{rec: r, id: id, userID: userID, summary: summary}
}

type hook struct {
	session.NopPresenter
	rec     *Recorder
	id      uuid.UUID
	userID  int
	summary func() session.Summary
}

func (h *hook) Event(e session.Event) {
	if e.Kind != session.ExerciseCompleted && e.Kind != session.SessionAborted {
		return
	}
	row, reps := Rows(h.id, h.userID, h.summary())
	h.rec.enqueue(saveJob{row: row, reps: reps})
}
