package history

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/models"
	"github.com/meltforce/rehabreps/internal/rep"
	"github.com/meltforce/rehabreps/internal/session"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func record(side rep.Side, set, index int, min, max float64, counted bool) session.RepRecord {
	span := max - min
	return session.RepRecord{
		Rep: rep.Rep{
			Side: side, Index: index, Range: rep.Range{Min: min, Max: max},
			Span: span, Quality: rep.Quality(span, 100), Counted: counted,
		},
		Set:  set,
		Time: epoch.Add(time.Duration(index) * time.Second),
	}
}

// TestSummarize verifies statistics cover counted reps only.
func TestSummarize(t *testing.T) {
	reps := []session.RepRecord{
		record(rep.Left, 1, 1, 80, 160, true),
		record(rep.Left, 1, 2, 70, 170, true),
		record(rep.Left, 1, 3, 150, 170, false),
		record(rep.Left, 1, 3, 60, 180, true),
	}
	st := Summarize(reps)
	if st.Counted != 3 || st.Rejected != 1 {
		t.Fatalf("counted/rejected = %d/%d, want 3/1", st.Counted, st.Rejected)
	}
	if math.Abs(st.MeanRange-100) > 1e-9 {
		t.Errorf("mean range = %v, want 100", st.MeanRange)
	}
	if math.Abs(st.StdDevRange-20) > 1e-9 {
		t.Errorf("stddev range = %v, want 20", st.StdDevRange)
	}
	if st.BestRange != 120 {
		t.Errorf("best range = %v, want 120", st.BestRange)
	}
	if math.Abs(st.MeanQuality-(80+100+100)/3.0) > 1e-9 {
		t.Errorf("mean quality = %v", st.MeanQuality)
	}
}

// TestSummarizeEdgeCases verifies empty and single-rep inputs stay finite.
func TestSummarizeEdgeCases(t *testing.T) {
	if st := Summarize(nil); st != (Stats{}) {
		t.Errorf("Summarize(nil) = %+v, want zero", st)
	}
	st := Summarize([]session.RepRecord{record(rep.Right, 1, 1, 90, 150, true)})
	if st.StdDevRange != 0 || st.MeanRange != 60 || st.BestRange != 60 {
		t.Errorf("single rep stats = %+v", st)
	}
}

// TestRows verifies the summary maps onto session and rep rows.
func TestRows(t *testing.T) {
	id := uuid.New()
	sum := session.Summary{
		Exercise: "bicep_curl", Side: session.ModeBoth, Status: session.StatusCompleted,
		StartedAt: epoch, EndedAt: epoch.Add(time.Minute),
		TargetReps: 1, TargetSets: 1, SetsCompleted: 1,
		Reps: []session.RepRecord{
			record(rep.Left, 1, 1, 90, 170, true),
			record(rep.Right, 1, 1, 95, 170, true),
		},
	}
	row, reps := Rows(id, 7, sum)
	if row.ID != id || row.UserID != 7 || row.Status != "completed" || row.Side != "both" {
		t.Errorf("row = %+v", row)
	}
	if row.EndedAt == nil || !row.EndedAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("ended_at = %v", row.EndedAt)
	}
	want := []models.RepRow{
		{SessionID: id, Seq: 1, SetNumber: 1, Side: "left", RepIndex: 1, MinAngle: 90, MaxAngle: 170, RangeDeg: 80, Quality: 80, Counted: true, CompletedAt: epoch.Add(time.Second)},
		{SessionID: id, Seq: 2, SetNumber: 1, Side: "right", RepIndex: 1, MinAngle: 95, MaxAngle: 170, RangeDeg: 75, Quality: 75, Counted: true, CompletedAt: epoch.Add(time.Second)},
	}
	if diff := cmp.Diff(want, reps); diff != "" {
		t.Errorf("rep rows mismatch (-want +got):\n%s", diff)
	}

	sum.EndedAt = time.Time{}
	if row, _ := Rows(id, 7, sum); row.EndedAt != nil {
		t.Errorf("ended_at = %v, want nil for a running session", row.EndedAt)
	}
}

// TestRecorderSavesOnTerminalEvents verifies only completion and abort trigger a save.
func TestRecorderSavesOnTerminalEvents(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, slog.New(slog.DiscardHandler), 4)
	id := uuid.New()
	sum := session.Summary{Exercise: "arm_raise", Status: session.StatusAborted, StartedAt: epoch}
	hook := rec.Hook(id, 1, func() session.Summary { return sum })

	hook.Event(session.Event{Kind: session.RepCompleted})
	hook.Event(session.Event{Kind: session.SessionAborted})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	got, err := store.GetSession(context.Background(), id, 1)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != "aborted" || got.Exercise != "arm_raise" {
		t.Errorf("saved row = %+v", got.SessionRow)
	}
	rows, _ := store.QuerySessions(context.Background(), models.SessionQuery{UserID: 1})
	if len(rows) != 1 {
		t.Errorf("saved sessions = %d, want 1", len(rows))
	}
}

// TestMemoryStoreQuery verifies user scoping, filters and ordering.
func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	save := func(user int, exercise string, at time.Time) uuid.UUID {
		id := uuid.New()
		store.SaveSession(ctx, models.SessionRow{ID: id, UserID: user, Exercise: exercise, StartedAt: at}, nil)
		return id
	}
	first := save(1, "arm_raise", epoch)
	second := save(1, "bicep_curl", epoch.Add(time.Hour))
	save(2, "arm_raise", epoch)

	rows, _ := store.QuerySessions(ctx, models.SessionQuery{UserID: 1})
	if len(rows) != 2 || rows[0].ID != second || rows[1].ID != first {
		t.Errorf("rows = %+v, want newest first for user 1", rows)
	}
	rows, _ = store.QuerySessions(ctx, models.SessionQuery{UserID: 1, Exercise: "arm_raise"})
	if len(rows) != 1 || rows[0].ID != first {
		t.Errorf("exercise filter = %+v", rows)
	}
	rows, _ = store.QuerySessions(ctx, models.SessionQuery{UserID: 1, Start: epoch.Add(time.Minute)})
	if len(rows) != 1 || rows[0].ID != second {
		t.Errorf("start filter = %+v", rows)
	}
	if _, err := store.GetSession(ctx, first, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(other user) = %v, want ErrNotFound", err)
	}
}

// TestMemoryStoreUsers verifies logins map to stable IDs with the local user fixed at 1.
func TestMemoryStoreUsers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if id, _ := store.GetOrCreateUser(ctx, "local", ""); id != 1 {
		t.Errorf("local user = %d, want 1", id)
	}
	alice, _ := store.GetOrCreateUser(ctx, "alice@example.com", "Alice")
	if alice == 1 {
		t.Errorf("alice = %d, want a new ID", alice)
	}
	if again, _ := store.GetOrCreateUser(ctx, "alice@example.com", ""); again != alice {
		t.Errorf("alice again = %d, want %d", again, alice)
	}
}
