package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/pose"
	"github.com/meltforce/rehabreps/internal/schedule"
	"github.com/meltforce/rehabreps/internal/session"
	"go.uber.org/multierr"
)

// ErrTooManySessions is returned when the live session limit is reached.
var ErrTooManySessions = errors.New("too many live sessions")

// liveSession is a running session and the handles the API needs to reach it.
type liveSession struct {
	ID        uuid.UUID `json:"id"`
	UserID    int       `json:"-"`
	Exercise  string    `json:"exercise"`
	CreatedAt time.Time `json:"created_at"`

	runner *session.Runner
	buffer *session.Buffer
	stream *broadcaster
	cancel context.CancelFunc
}

// finished reports whether the session is no longer counting.
func (ls *liveSession) finished() bool {
	st := ls.buffer.Latest().State
	return st == schedule.Complete || st == schedule.NotStarted
}

// stop cancels the session goroutine and waits for it to exit.
func (ls *liveSession) stop(ctx context.Context) error {
	ls.cancel()
	defer ls.stream.close()
	select {
	case <-ls.runner.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping session %s: %w", ls.ID, ctx.Err())
	}
}

// registry holds the live sessions of the process.
type registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*liveSession
	max      int
}

func newRegistry(max int) *registry {
	return &registry{sessions: make(map[uuid.UUID]*liveSession), max: max}
}

// add stores ls, evicting finished sessions when the limit is reached.
// It returns the evicted sessions so the caller can stop them.
func (reg *registry) add(ls *liveSession) ([]*liveSession, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var evicted []*liveSession
	if reg.max > 0 && len(reg.sessions) >= reg.max {
		for id, other := range reg.sessions {
			if other.finished() {
				delete(reg.sessions, id)
				evicted = append(evicted, other)
			}
		}
		if len(reg.sessions) >= reg.max {
			return evicted, ErrTooManySessions
		}
	}
	reg.sessions[ls.ID] = ls
	return evicted, nil
}

func (reg *registry) get(id uuid.UUID, userID int) (*liveSession, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ls, ok := reg.sessions[id]
	if !ok || ls.UserID != userID {
		return nil, false
	}
	return ls, true
}

func (reg *registry) remove(id uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.sessions, id)
}

// list returns the user's sessions, oldest first.
func (reg *registry) list(userID int) []*liveSession {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var out []*liveSession
	for _, ls := range reg.sessions {
		if ls.UserID == userID {
			out = append(out, ls)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (reg *registry) len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.sessions)
}

// drain removes and returns every session.
func (reg *registry) drain() []*liveSession {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*liveSession, 0, len(reg.sessions))
	for id, ls := range reg.sessions {
		out = append(out, ls)
		delete(reg.sessions, id)
	}
	return out
}

// stopAll stops every session, collecting the ones that did not exit in time.
func stopAll(ctx context.Context, sessions []*liveSession) error {
	var err error
	for _, ls := range sessions {
		err = multierr.Append(err, ls.stop(ctx))
	}
	return err
}

// createSessionRequest is the JSON body for starting a session.
type createSessionRequest struct {
	Exercise         string       `json:"exercise"`
	Side             session.Mode `json:"side"`
	Reps             int          `json:"reps"`
	Sets             int          `json:"sets"`
	RestSeconds      *int         `json:"rest_seconds"`
	CountdownSeconds *int         `json:"countdown_seconds"`
	MinScore         float64      `json:"min_score"`
}

// sessionView is the API representation of a live session.
type sessionView struct {
	*liveSession
	Snapshot session.Snapshot `json:"snapshot"`
}

func (ls *liveSession) view() sessionView {
	return sessionView{liveSession: ls, Snapshot: ls.buffer.Latest()}
}

// startSession creates, registers and starts a session for userID.
func (s *Server) startSession(ctx context.Context, userID int, req createSessionRequest) (*liveSession, error) {
	def, err := s.catalog.Get(req.Exercise)
	if err != nil {
		return nil, err
	}

	cfg := session.Config{
		Side:             req.Side,
		TargetReps:       req.Reps,
		TargetSets:       req.Sets,
		RestSeconds:      req.RestSeconds,
		CountdownSeconds: req.CountdownSeconds,
		MinScore:         req.MinScore,
	}
	if cfg.TargetReps == 0 {
		cfg.TargetReps = s.defaults.Reps
	}
	if cfg.TargetSets == 0 {
		cfg.TargetSets = s.defaults.Sets
	}
	if cfg.CountdownSeconds == nil {
		cfg.CountdownSeconds = session.Seconds(s.defaults.Countdown)
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = s.defaults.MinScore
	}

	ls := &liveSession{
		ID:        uuid.New(),
		UserID:    userID,
		Exercise:  def.Name,
		CreatedAt: time.Now(),
		buffer:    session.NewBuffer(0),
		stream:    newBroadcaster(),
	}

	var sess *session.Session
	presenters := session.Presenters{ls.buffer, ls.stream}
	if s.recorder != nil {
		presenters = append(presenters, s.recorder.Hook(ls.ID, userID, func() session.Summary { return sess.Summary() }))
	}
	sess = session.New(def, cfg, session.Options{
		Presenter: presenters,
		Metrics:   s.metrics,
		Logger:    s.log.With("session", ls.ID),
	})
	ls.runner = session.NewRunner(sess, 0)
	runCtx, cancel := context.WithCancel(s.ctx)
	ls.cancel = cancel

	evicted, err := s.sessions.add(ls)
	if stopErr := stopAll(ctx, evicted); stopErr != nil {
		s.log.Warn("evicting finished sessions", "error", stopErr)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	go ls.runner.Run(runCtx)

	if err := ls.runner.Do(ctx, (*session.Session).Start); err != nil {
		s.sessions.remove(ls.ID)
		_ = ls.stop(context.Background())
		return nil, fmt.Errorf("starting session: %w", err)
	}
	s.metrics.LiveSessions(s.sessions.len())
	s.log.Info("session created", "id", ls.ID, "exercise", def.Name, "user_id", userID,
		"side", sess.Config().Side, "reps", sess.Config().TargetReps, "sets", sess.Config().TargetSets)
	return ls, nil
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	uid := userIDFromContext(r)

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Exercise == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exercise is required"})
		return
	}

	ls, err := s.startSession(r.Context(), uid, req)
	switch {
	case errors.Is(err, exercise.ErrUnknown):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, ErrTooManySessions):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.log.Error("create session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, ls.view())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	live := s.sessions.list(userIDFromContext(r))
	views := make([]sessionView, 0, len(live))
	for _, ls := range live {
		views = append(views, ls.view())
	}
	writeJSON(w, http.StatusOK, views)
}

// lookup resolves the {id} URL parameter to a live session of the caller,
// writing the error response when it cannot.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*liveSession, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return nil, false
	}
	ls, ok := s.sessions.get(id, userIDFromContext(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return nil, false
	}
	return ls, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ls.view())
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": ls.buffer.Events(),
		"cues":   ls.buffer.Cues(),
	})
}

// handleFrames accepts one frame object or an array of frames. The frames are
// processed before the response, which carries the resulting snapshot.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	frames, err := decodeFrames(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid frames: " + err.Error()})
		return
	}

	now := time.Now()
	for i := range frames {
		if frames[i].Time.IsZero() {
			frames[i].Time = now
		}
	}
	var snap session.Snapshot
	err = ls.runner.Do(r.Context(), func(sess *session.Session) {
		for _, f := range frames {
			sess.HandleFrame(f)
		}
		snap = sess.Snapshot()
	})
	if err != nil {
		writeJSON(w, http.StatusGone, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, framesResponse{Accepted: len(frames), Snapshot: snap})
}

// framesResponse acknowledges a frame batch.
type framesResponse struct {
	Accepted int              `json:"accepted"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func decodeFrames(raw json.RawMessage) ([]pose.Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var frames []pose.Frame
		err := json.Unmarshal(trimmed, &frames)
		return frames, err
	}
	var f pose.Frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, err
	}
	return []pose.Frame{f}, nil
}

func (s *Server) handleRestartSession(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, (*session.Session).Start)
}

func (s *Server) handleAbortSession(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, (*session.Session).Abort)
}

// control runs op on the session goroutine and replies with the resulting snapshot.
func (s *Server) control(w http.ResponseWriter, r *http.Request, op func(*session.Session)) {
	ls, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var snap session.Snapshot
	err := ls.runner.Do(r.Context(), func(sess *session.Session) {
		op(sess)
		snap = sess.Snapshot()
	})
	if err != nil {
		writeJSON(w, http.StatusGone, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessionView{liveSession: ls, Snapshot: snap})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.sessions.remove(ls.ID)
	if err := ls.stop(r.Context()); err != nil {
		s.log.Warn("delete session", "id", ls.ID, "error", err)
	}
	s.metrics.LiveSessions(s.sessions.len())
	w.WriteHeader(http.StatusNoContent)
}
