package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/pose"
	"github.com/meltforce/rehabreps/internal/remote"
	"github.com/meltforce/rehabreps/internal/rep"
	"github.com/meltforce/rehabreps/internal/schedule"
	"github.com/meltforce/rehabreps/internal/session"
	"github.com/meltforce/rehabreps/internal/timeutil"
)

// ErrEmpty is returned for recordings without frames.
var ErrEmpty = errors.New("recording has no frames")

// Result is the outcome of a local replay.
type Result struct {
	Summary session.Summary
	// Frames is how many frames were fed before the exercise completed.
	Frames int
}

// Local replays frames through a new session whose clock follows the frame
// timestamps, so countdown and rest periods elapse exactly as recorded.
// A recording that ends before the exercise completes is reported as aborted.
func Local(ctx context.Context, def *exercise.Definition, cfg session.Config, frames []pose.Frame, opts session.Options) (Result, error) {
	if len(frames) == 0 {
		return Result{}, ErrEmpty
	}

	clock := timeutil.NewManualClock(frames[0].Time)
	opts.Clock = clock
	s := session.New(def, cfg, opts)
	s.Start()

	var res Result
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			s.Abort()
			res.Summary = s.Summary()
			return res, err
		}
		advance(clock, s, f.Time)
		s.HandleFrame(f)
		res.Frames++
		if s.State() == schedule.Complete {
			break
		}
	}
	s.Abort()
	res.Summary = s.Summary()
	return res, nil
}

// advance moves clock to t in steps of at most one tick interval, handling
// the timer ticks due after each step.
func advance(clock *timeutil.ManualClock, s *session.Session, t time.Time) {
	for now := clock.Now(); now.Before(t); now = clock.Now() {
		clock.Advance(min(schedule.TickInterval, t.Sub(now)))
		s.Poll()
	}
}

// RemoteOptions tunes Remote.
type RemoteOptions struct {
	// Window is the recording time covered by one request.
	Window time.Duration
	// Progress, when set, receives the server snapshot after every batch.
	Progress func(session.Snapshot)
	Logger   *slog.Logger
}

// RemoteResult is the outcome of a remote replay.
type RemoteResult struct {
	Session *remote.Session
	// RepsCounted totals the reps the server reported across all sets.
	RepsCounted int
}

// repTally keeps the highest rep count seen per set and side. Counters reset
// when a set begins, so the per-set maximum is that set's result.
type repTally map[int]map[rep.Side]int

func (t repTally) observe(s session.Snapshot) {
	if t[s.Set] == nil {
		t[s.Set] = make(map[rep.Side]int)
	}
	for _, side := range s.Sides {
		t[s.Set][side.Side] = max(t[s.Set][side.Side], side.Reps)
	}
}

func (t repTally) total() int {
	n := 0
	for _, sides := range t {
		for _, reps := range sides {
			n += reps
		}
	}
	return n
}

// Remote creates a server session and streams frames to it in real time.
// The server runs countdown and rest on its own clock, so batches are sent
// when their recorded offset has elapsed. Frame times are cleared and the
// server stamps arrival time instead. When the recording ends before the
// exercise completes, the server session is deleted and recorded as aborted.
func Remote(ctx context.Context, c *remote.Client, req remote.SessionRequest, frames []pose.Frame, opts RemoteOptions) (*RemoteResult, error) {
	if len(frames) == 0 {
		return nil, ErrEmpty
	}
	if opts.Window <= 0 {
		opts.Window = 200 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	sess, err := c.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Info("remote session created", "id", sess.ID, "exercise", sess.Exercise, "state", sess.Snapshot.State)

	res := &RemoteResult{Session: sess}
	tally := repTally{}
	origin := frames[0].Time
	started := time.Now()
	for _, batch := range batches(frames, opts.Window) {
		due := started.Add(batch[len(batch)-1].Time.Sub(origin))
		if err := sleepUntil(ctx, due); err != nil {
			return res, abortRemote(c, sess, err)
		}
		out := make([]pose.Frame, len(batch))
		for i, f := range batch {
			f.Time = time.Time{}
			out[i] = f
		}
		snap, err := c.SendFrames(ctx, sess.ID, out)
		if err != nil {
			return res, abortRemote(c, sess, err)
		}
		sess.Snapshot = snap
		tally.observe(snap)
		res.RepsCounted = tally.total()
		if opts.Progress != nil {
			opts.Progress(snap)
		}
		if snap.State == schedule.Complete {
			return res, nil
		}
	}

	log.Warn("recording ended before the exercise completed", "id", sess.ID, "set", sess.Snapshot.Set)
	if err := c.DeleteSession(ctx, sess.ID); err != nil {
		return res, err
	}
	return res, nil
}

// abortRemote deletes the server session after a failure and returns cause.
func abortRemote(c *remote.Client, sess *remote.Session, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.DeleteSession(ctx, sess.ID); err != nil {
		return fmt.Errorf("%w (deleting session: %v)", cause, err)
	}
	return cause
}

// batches splits frames into runs covering at most window of recording time.
func batches(frames []pose.Frame, window time.Duration) [][]pose.Frame {
	var out [][]pose.Frame
	start := 0
	for i := 1; i <= len(frames); i++ {
		if i == len(frames) || frames[i].Time.Sub(frames[start].Time) >= window {
			out = append(out, frames[start:i])
			start = i
		}
	}
	return out
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
