package replay

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meltforce/rehabreps/internal/journal"
	"github.com/meltforce/rehabreps/internal/session"
)

func writeRecording(t *testing.T, dir, name string, r *recorder) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, writeLines(t, r.frames), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestReplayer(t *testing.T, force bool) (*Replayer, *journal.Journal) {
	t.Helper()
	j, err := journal.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	cfg := session.Config{Side: session.ModeLeft, TargetReps: 2, TargetSets: 1, CountdownSeconds: session.Seconds(0)}
	return NewReplayer(j, curlDef(), cfg, nil, nil, force, slog.New(slog.DiscardHandler)), j
}

// TestReplayerJournalsAndSkips verifies a replayed file is journaled and
// skipped on the next run.
func TestReplayerJournalsAndSkips(t *testing.T) {
	dir := t.TempDir()
	r := &recorder{}
	r.hold(170, 100*time.Millisecond).curl().curl()
	path := writeRecording(t, dir, "a.jsonl", r)

	rp, j := newTestReplayer(t, false)
	stats, err := rp.Run(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Replayed != 1 || stats.RepsCounted != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	entries, err := j.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != string(session.StatusCompleted) || entries[0].RepsCounted != 2 {
		t.Fatalf("journal = %+v", entries)
	}

	stats, err = rp.Run(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 || stats.Replayed != 1 {
		t.Errorf("second run stats = %+v, want one skip", stats)
	}
}

// TestReplayerForce verifies force replays journaled files.
func TestReplayerForce(t *testing.T) {
	dir := t.TempDir()
	r := &recorder{}
	r.hold(170, 100*time.Millisecond).curl()
	path := writeRecording(t, dir, "a.jsonl", r)

	rp, _ := newTestReplayer(t, true)
	for range 2 {
		if _, err := rp.Run(context.Background(), []string{path}); err != nil {
			t.Fatal(err)
		}
	}
	if rp.stats.Replayed != 2 || rp.stats.Skipped != 0 {
		t.Errorf("stats = %+v, want two replays", rp.stats)
	}
}

// TestReplayerContinuesPastErrors verifies a bad file is counted and the
// rest are still replayed.
func TestReplayerContinuesPastErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.jsonl")
	if err := os.WriteFile(bad, []byte("{not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &recorder{}
	r.hold(170, 100*time.Millisecond).curl()
	good := writeRecording(t, dir, "good.jsonl", r)

	rp, j := newTestReplayer(t, false)
	stats, err := rp.Run(context.Background(), []string{bad, filepath.Join(dir, "missing.jsonl"), good})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 3 || stats.Errored != 2 || stats.Replayed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	// the incomplete good recording (1 of 2 reps) is journaled as aborted
	entries, _ := j.List()
	if len(entries) != 1 || entries[0].Status != string(session.StatusAborted) {
		t.Errorf("journal = %+v", entries)
	}
}

// TestReplayerChangedFileIsReplayed verifies the journal is keyed on content.
func TestReplayerChangedFileIsReplayed(t *testing.T) {
	dir := t.TempDir()
	r := &recorder{}
	r.hold(170, 100*time.Millisecond).curl()
	path := writeRecording(t, dir, "a.jsonl", r)

	rp, _ := newTestReplayer(t, false)
	if _, err := rp.Run(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}
	r.curl()
	writeRecording(t, dir, "a.jsonl", r)
	if _, err := rp.Run(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}
	if rp.stats.Replayed != 2 {
		t.Errorf("replayed = %d, want 2", rp.stats.Replayed)
	}
}

// TestReplayerCancelled verifies Run stops before the next file.
func TestReplayerCancelled(t *testing.T) {
	rp, _ := newTestReplayer(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := rp.Run(ctx, []string{"a.jsonl"})
	if err == nil || stats.Files != 0 {
		t.Errorf("stats = %+v, err = %v", stats, err)
	}
}
