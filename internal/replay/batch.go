package replay

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/history"
	"github.com/meltforce/rehabreps/internal/journal"
	"github.com/meltforce/rehabreps/internal/pose"
	"github.com/meltforce/rehabreps/internal/remote"
	"github.com/meltforce/rehabreps/internal/schedule"
	"github.com/meltforce/rehabreps/internal/session"
)

// Stats tracks a batch replay.
type Stats struct {
	Files       int
	Replayed    int
	Skipped     int
	Errored     int
	RepsCounted int
}

// Replayer replays recording files for one exercise and journals the outcome.
// With a Client the frames go to a server session, otherwise they are
// counted locally.
type Replayer struct {
	journal  *journal.Journal
	def      *exercise.Definition
	cfg      session.Config
	client   *remote.Client
	terminal *Terminal
	force    bool
	log      *slog.Logger
	stats    Stats
}

// NewReplayer creates a Replayer. client may be nil for local replays and
// force replays files the journal already holds.
func NewReplayer(j *journal.Journal, def *exercise.Definition, cfg session.Config, client *remote.Client, term *Terminal, force bool, log *slog.Logger) *Replayer {
	return &Replayer{
		journal:  j,
		def:      def,
		cfg:      cfg,
		client:   client,
		terminal: term,
		force:    force,
		log:      log,
	}
}

// Run replays each path in order. A failing file is logged and counted; Run
// only stops early when ctx is cancelled.
func (r *Replayer) Run(ctx context.Context, paths []string) (*Stats, error) {
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return &r.stats, err
		}
		r.stats.Files++
		if err := r.replayFile(ctx, path); err != nil {
			r.stats.Errored++
			r.log.Error("replay failed", "path", path, "error", err)
		}
	}
	return &r.stats, nil
}

func (r *Replayer) replayFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	hash, err := journal.HashFile(abs)
	if err != nil {
		return fmt.Errorf("hashing: %w", err)
	}

	if !r.force {
		prev, ok, err := r.journal.Lookup(abs, hash, r.def.Name)
		if err != nil {
			return err
		}
		if ok {
			r.stats.Skipped++
			r.log.Info("already replayed, skipping", "path", path, "status", prev.Status, "reps", prev.RepsCounted, "at", prev.ReplayedAt)
			return nil
		}
	}

	rc, err := Open(abs)
	if err != nil {
		return err
	}
	frames, err := ReadFrames(rc)
	rc.Close()
	if err != nil {
		return err
	}
	r.log.Info("replaying", "path", path, "frames", len(frames), "duration", Duration(frames))

	entry := journal.Entry{Path: abs, Hash: hash, Exercise: r.def.Name}
	if r.client != nil {
		err = r.remote(ctx, frames, &entry)
	} else {
		err = r.local(ctx, frames, &entry)
	}
	if err != nil {
		return err
	}

	r.stats.Replayed++
	r.stats.RepsCounted += entry.RepsCounted
	return r.journal.Record(entry)
}

func (r *Replayer) local(ctx context.Context, frames []pose.Frame, entry *journal.Entry) error {
	opts := session.Options{Logger: r.log}
	if r.terminal != nil {
		opts.Presenter = r.terminal
	}
	res, err := Local(ctx, r.def, r.cfg, frames, opts)
	if err != nil {
		return err
	}
	st := history.Summarize(res.Summary.Reps)
	entry.Status = string(res.Summary.Status)
	entry.RepsCounted = st.Counted
	entry.MeanRange = st.MeanRange
	return nil
}

func (r *Replayer) remote(ctx context.Context, frames []pose.Frame, entry *journal.Entry) error {
	req := remote.SessionRequest{
		Exercise:         r.def.Name,
		Side:             r.cfg.Side,
		Reps:             r.cfg.TargetReps,
		Sets:             r.cfg.TargetSets,
		RestSeconds:      r.cfg.RestSeconds,
		CountdownSeconds: r.cfg.CountdownSeconds,
		MinScore:         r.cfg.MinScore,
	}
	opts := RemoteOptions{Logger: r.log}
	if r.terminal != nil {
		opts.Progress = r.terminal.RemoteProgress()
	}
	res, err := Remote(ctx, r.client, req, frames, opts)
	if err != nil {
		return err
	}

	entry.Status = string(session.StatusAborted)
	if res.Session.Snapshot.State == schedule.Complete {
		entry.Status = string(session.StatusCompleted)
	}
	entry.RepsCounted = res.RepsCounted
	r.log.Info("remote replay finished", "id", res.Session.ID, "status", entry.Status, "reps", entry.RepsCounted)
	return nil
}
