package mcp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/models"
	"github.com/meltforce/rehabreps/internal/session"
)

// DataSource abstracts the data layer for MCP tools. Both the HTTP server
// (local) and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	ListExercises(ctx context.Context) ([]*exercise.Definition, error)
	QuerySessions(ctx context.Context, q models.SessionQuery) ([]models.SessionRow, error)
	GetSession(ctx context.Context, id uuid.UUID, userID int) (*models.SessionDetail, error)
	LiveSessions(ctx context.Context, userID int) ([]LiveSession, error)
}

// LiveSession is a session currently held in server memory.
type LiveSession struct {
	ID        uuid.UUID        `json:"id"`
	Exercise  string           `json:"exercise"`
	CreatedAt time.Time        `json:"created_at"`
	Snapshot  session.Snapshot `json:"snapshot"`
}
