package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/history"
	"github.com/meltforce/rehabreps/internal/mcp"
	"github.com/meltforce/rehabreps/internal/models"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	def, err := s.catalog.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleQueryHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}

	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	rows, err := s.store.QuerySessions(r.Context(), models.SessionQuery{
		UserID:   uid,
		Start:    start,
		End:      end,
		Exercise: r.URL.Query().Get("exercise"),
		Limit:    limit,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []models.SessionRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := mustUserID(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	detail, err := s.store.GetSession(r.Context(), id, uid)
	if errors.Is(err, history.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListExercises returns the catalog for MCP clients.
func (s *Server) ListExercises(context.Context) ([]*exercise.Definition, error) {
	return s.catalog.List(), nil
}

func (s *Server) QuerySessions(ctx context.Context, q models.SessionQuery) ([]models.SessionRow, error) {
	return s.store.QuerySessions(ctx, q)
}

func (s *Server) GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error) {
	return s.store.GetSession(ctx, id, userID)
}

// LiveSessions lists the user's in-memory sessions for MCP clients.
func (s *Server) LiveSessions(_ context.Context, userID int) ([]mcp.LiveSession, error) {
	live := s.sessions.list(userID)
	out := make([]mcp.LiveSession, 0, len(live))
	for _, ls := range live {
		out = append(out, mcp.LiveSession{
			ID:        ls.ID,
			Exercise:  ls.Exercise,
			CreatedAt: ls.CreatedAt,
			Snapshot:  ls.buffer.Latest(),
		})
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseTimeRange(r *http.Request) (start, end time.Time, err error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" {
		// Default: last 7 days
		end = time.Now()
		start = end.AddDate(0, 0, -7)
		return
	}

	start, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if endStr == "" {
		end = time.Now()
	} else {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			// End of day for date-only
			end = end.Add(24 * time.Hour)
		}
	}
	return
}
