package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the user ID injected by the transport layer.
func UserIDFromContext(ctx context.Context) int {
	if id, ok := ctx.Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// WithUserID returns a context with the given user ID.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("RehabReps", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("RehabReps exercise server. Look up the exercise catalog, live sessions and finished session history with per-rep range of motion. All data is scoped to the authenticated user."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolListExercises, Handler: h.listExercises},
		server.ServerTool{Tool: toolGetSessionHistory, Handler: h.getSessionHistory},
		server.ServerTool{Tool: toolGetSessionDetail, Handler: h.getSessionDetail},
		server.ServerTool{Tool: toolGetLiveSessions, Handler: h.getLiveSessions},
		server.ServerTool{Tool: toolGetRangeTrend, Handler: h.getRangeTrend},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resExerciseCatalog, Handler: h.exerciseCatalog},
		server.ServerResource{Resource: resRecentSessions, Handler: h.recentSessions},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resExerciseCatalog = mcp.NewResource(
	"rehabreps://exercise_catalog",
	"Exercise Catalog",
	mcp.WithResourceDescription("Every exercise the counter supports with its joints, thresholds and ideal range of motion"),
	mcp.WithMIMEType("application/json"),
)

var resRecentSessions = mcp.NewResource(
	"rehabreps://recent_sessions",
	"Recent Sessions",
	mcp.WithResourceDescription("Finished and aborted sessions from the last 14 days"),
	mcp.WithMIMEType("application/json"),
)
