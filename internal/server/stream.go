package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/meltforce/rehabreps/internal/session"
)

// sseEvent is an SSE message to send to subscribers.
type sseEvent struct {
	Event string
	Data  string
}

// broadcaster is a session presenter that fans progress out to event-stream
// subscribers. Slow subscribers miss messages instead of stalling the session.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan sseEvent]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan sseEvent]struct{})}
}

func (b *broadcaster) Snapshot(s session.Snapshot) {
	b.broadcast("snapshot", s)
}

func (b *broadcaster) Event(e session.Event) {
	b.broadcast(string(e.Kind), e)
}

func (b *broadcaster) Cue(c session.Cue) {
	b.broadcast("cue", map[string]session.Cue{"cue": c})
}

func (b *broadcaster) broadcast(name string, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return
	}
	event := sseEvent{Event: name, Data: mustJSON(v)}
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// slow subscriber, skip
		}
	}
}

// subscribe returns nil once the broadcaster is closed.
func (b *broadcaster) subscribe() chan sseEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	ch := make(chan sseEvent, 32)
	b.subs[ch] = struct{}{}
	return ch
}

func (b *broadcaster) unsubscribe(ch chan sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// close ends every subscription.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// handleSessionStream streams snapshots, events and cues of a live session
// until the client disconnects, the exercise ends or the session is removed.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.lookup(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	ch := ls.stream.subscribe()
	if ch == nil {
		writeJSON(w, http.StatusGone, map[string]string{"error": "session closed"})
		return
	}
	defer ls.stream.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send current progress immediately
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", mustJSON(ls.buffer.Latest()))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data)
			flusher.Flush()

			if evt.Event == string(session.ExerciseCompleted) {
				return
			}
		}
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{}`
	}
	return string(b)
}
