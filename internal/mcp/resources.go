package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/meltforce/rehabreps/internal/models"
)

func (h *handlers) exerciseCatalog(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	defs, err := h.ds.ListExercises(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource(req, defs)
}

func (h *handlers) recentSessions(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	end := time.Now()
	rows, err := h.ds.QuerySessions(ctx, models.SessionQuery{
		UserID: UserIDFromContext(ctx),
		Start:  end.AddDate(0, 0, -14),
		End:    end,
	})
	if err != nil {
		return nil, err
	}
	return jsonResource(req, rows)
}

func jsonResource(req mcp.ReadResourceRequest, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
