package history

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/models"
)

// MemoryStore keeps history in process memory. It backs development runs
// without a database and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.SessionDetail
	users    map[string]int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]models.SessionDetail),
		users:    map[string]int{"local": 1},
	}
}

// GetOrCreateUser returns the ID for login, assigning the next free one on
// first sight. The local development user is always 1.
func (m *MemoryStore) GetOrCreateUser(_ context.Context, login, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.users[login]; ok {
		return id, nil
	}
	id := len(m.users) + 1
	m.users[login] = id
	return id, nil
}

// SaveSession inserts or replaces a session and its reps.
func (m *MemoryStore) SaveSession(_ context.Context, row models.SessionRow, reps []models.RepRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[row.ID] = models.SessionDetail{SessionRow: row, Reps: append([]models.RepRow(nil), reps...)}
	return nil
}

// QuerySessions returns matching sessions, newest first.
func (m *MemoryStore) QuerySessions(_ context.Context, q models.SessionQuery) ([]models.SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SessionRow
	for _, d := range m.sessions {
		r := d.SessionRow
		if r.UserID != q.UserID {
			continue
		}
		if !q.Start.IsZero() && r.StartedAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && !r.StartedAt.Before(q.End) {
			continue
		}
		if q.Exercise != "" && r.Exercise != q.Exercise {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetSession returns one session with its reps or ErrNotFound.
func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.sessions[id]
	if !ok || d.UserID != userID {
		return nil, ErrNotFound
	}
	d.Reps = append([]models.RepRow(nil), d.Reps...)
	return &d, nil
}
