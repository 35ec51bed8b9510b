package replay

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/meltforce/rehabreps/internal/session"
)

var (
	colorRed    = lipgloss.Color("#E06C75")
	colorGreen  = lipgloss.Color("#98C379")
	colorYellow = lipgloss.Color("#E5C07B")
	colorBlue   = lipgloss.Color("#61AFEF")
	colorMuted  = lipgloss.Color("#636B78")

	setStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	repStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			PaddingLeft(2)

	rejectStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			PaddingLeft(2)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			PaddingLeft(2)

	doneStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	abortStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)

// Terminal is a session presenter that prints progress lines, with a bar
// showing each rep's range as a share of the ideal range.
type Terminal struct {
	mu  sync.Mutex
	w   io.Writer
	bar progress.Model
}

// NewTerminal creates a presenter writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{
		w:   w,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

// Snapshot is ignored; the terminal only reports events.
func (t *Terminal) Snapshot(session.Snapshot) {}

// Cue is ignored; audio belongs to interactive front ends.
func (t *Terminal) Cue(session.Cue) {}

func (t *Terminal) Event(e session.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Kind {
	case session.CountdownTick:
		t.line(mutedStyle.Render(fmt.Sprintf("starting in %d", e.Remaining)))
	case session.SetStarted:
		t.line(setStyle.Render(fmt.Sprintf("Set %d", e.Set)))
	case session.RepCompleted:
		r := e.Rep
		t.line(repStyle.Render(fmt.Sprintf("%-6s rep %-3d %6.1f°", r.Side, r.Index, r.Span)) + "  " + t.bar.ViewAs(r.Quality/100))
	case session.RepRejected:
		r := e.Rep
		t.line(rejectStyle.Render(fmt.Sprintf("%-6s cycle rejected, range %.1f°", r.Side, r.Span)))
	case session.SetCompleted:
		t.line(setStyle.Render(fmt.Sprintf("Set %d complete", e.Set)))
	case session.RestTick:
		if e.Remaining%5 == 0 {
			t.line(mutedStyle.Render(fmt.Sprintf("rest %ds", e.Remaining)))
		}
	case session.ExerciseCompleted:
		t.line(doneStyle.Render(e.Exercise + " complete"))
	case session.SessionAborted:
		t.line(abortStyle.Render(fmt.Sprintf("%s aborted in set %d", e.Exercise, e.Set)))
	}
}

func (t *Terminal) line(s string) {
	fmt.Fprintln(t.w, s)
}

// RemoteProgress returns a callback for RemoteOptions.Progress that prints a
// line whenever the server reports more reps.
func (t *Terminal) RemoteProgress() func(session.Snapshot) {
	last := -1
	return func(s session.Snapshot) {
		total := 0
		for _, side := range s.Sides {
			total += side.Reps
		}
		if total == last {
			return
		}
		last = total
		t.mu.Lock()
		defer t.mu.Unlock()
		for _, side := range s.Sides {
			pct := 0.0
			if side.TargetReps > 0 {
				pct = float64(side.Reps) / float64(side.TargetReps)
			}
			t.line(repStyle.Render(fmt.Sprintf("set %d %-6s %2d/%-2d", s.Set, side.Side, side.Reps, side.TargetReps)) + "  " + t.bar.ViewAs(pct))
		}
	}
}
