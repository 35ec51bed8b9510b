package session

import (
	"context"
	"errors"

	"github.com/meltforce/rehabreps/internal/pose"
)

// ErrStopped is returned when submitting to a runner whose Run has returned.
var ErrStopped = errors.New("session runner stopped")

// Runner owns a session and serializes frames, control calls and timer ticks
// through the single goroutine executing Run.
type Runner struct {
	s      *Session
	frames chan pose.Frame
	ops    chan func(*Session)
	done   chan struct{}
}

// NewRunner wraps s. buffer is the number of frames that may queue before
// Submit blocks; with 0 Submit returns only once the frame was taken.
func NewRunner(s *Session, buffer int) *Runner {
	if buffer < 0 {
		buffer = 0
	}
	return &Runner{
		s:      s,
		frames: make(chan pose.Frame, buffer),
		ops:    make(chan func(*Session)),
		done:   make(chan struct{}),
	}
}

// Run processes work until ctx is cancelled. A running session is aborted on
// the way out so its timer is released. Run must be called once.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.s.Abort()

	for {
		// sched.C changes with Start, Abort and set transitions.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-r.frames:
			r.s.HandleFrame(f)
		case op := <-r.ops:
			op(r.s)
		case <-r.s.sched.C():
			r.s.tick()
		}
	}
}

// Submit queues a frame.
func (r *Runner) Submit(ctx context.Context, f pose.Frame) error {
	select {
	case r.frames <- f:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the session goroutine and waits for it to return.
func (r *Runner) Do(ctx context.Context, fn func(*Session)) error {
	finished := make(chan struct{})
	op := func(s *Session) {
		defer close(finished)
		fn(s)
	}
	select {
	case r.ops <- op:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}
