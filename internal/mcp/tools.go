package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/meltforce/rehabreps/internal/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// defaultTimeRange returns start/end defaulting to the last 7 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	return timeRange(startStr, endStr, 7)
}

// timeRange parses start/end, defaulting end to now and start to days before end.
func timeRange(startStr, endStr string, days int) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -days)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// --- Tool definitions ---

var toolListExercises = mcp.NewTool("list_exercises",
	mcp.WithDescription("List the exercises the rep counter supports, with tracked sides, angle thresholds and the ideal range of motion in degrees."),
)

var toolGetSessionHistory = mcp.NewTool("get_session_history",
	mcp.WithDescription("Query finished or aborted exercise sessions. Each row has reps counted and rejected plus mean, standard deviation and best range of motion."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 7 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
	mcp.WithString("exercise", mcp.Description("Filter by exercise name (e.g. bicep_curl, arm_raise)")),
	mcp.WithNumber("limit", mcp.Description("Maximum number of sessions. Defaults to 50.")),
)

var toolGetSessionDetail = mcp.NewTool("get_session_detail",
	mcp.WithDescription("Get one session with every rep: set, side, min/max angle, range and quality percentage."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Session ID (UUID)")),
)

var toolGetLiveSessions = mcp.NewTool("get_live_sessions",
	mcp.WithDescription("List sessions currently running on the server with their live progress (state, set, reps per side, current angle)."),
)

var toolGetRangeTrend = mcp.NewTool("get_range_trend",
	mcp.WithDescription("Range-of-motion trend for one exercise across sessions. Returns per-session mean range and the least-squares slope in degrees per session."),
	mcp.WithString("exercise", mcp.Required(), mcp.Description("Exercise name")),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 90 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
)

// --- Tool handlers ---

func (h *handlers) listExercises(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defs, err := h.ds.ListExercises(ctx)
	if err != nil {
		h.log.Error("mcp list_exercises", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	type exerciseInfo struct {
		Name          string   `json:"name"`
		Title         string   `json:"title"`
		Description   string   `json:"description"`
		Sides         []string `json:"sides"`
		Direction     string   `json:"direction"`
		Low           float64  `json:"low"`
		High          float64  `json:"high"`
		IdealRange    float64  `json:"ideal_range"`
		MinValidRange float64  `json:"min_valid_range,omitempty"`
		RestSeconds   int      `json:"rest_seconds"`
	}
	out := make([]exerciseInfo, 0, len(defs))
	for _, d := range defs {
		info := exerciseInfo{
			Name: d.Name, Title: d.Title, Description: d.Description,
			Direction: d.Direction.String(), Low: d.Low, High: d.High,
			IdealRange: d.IdealRange, MinValidRange: d.MinValidRange, RestSeconds: d.RestSeconds,
		}
		for _, s := range d.Sides() {
			info.Sides = append(info.Sides, string(s))
		}
		out = append(out, info)
	}

	result, err := mcp.NewToolResultJSON(out)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSessionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	rows, err := h.ds.QuerySessions(ctx, models.SessionQuery{
		UserID:   UserIDFromContext(ctx),
		Start:    start,
		End:      end,
		Exercise: req.GetString("exercise", ""),
		Limit:    req.GetInt("limit", 50),
	})
	if err != nil {
		h.log.Error("mcp get_session_history", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(rows)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSessionDetail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idStr, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return mcp.NewToolResultError("invalid session ID"), nil
	}

	detail, err := h.ds.GetSession(ctx, id, UserIDFromContext(ctx))
	if err != nil {
		h.log.Error("mcp get_session_detail", "id", id, "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(detail)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getLiveSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	live, err := h.ds.LiveSessions(ctx, UserIDFromContext(ctx))
	if err != nil {
		h.log.Error("mcp get_live_sessions", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if live == nil {
		live = []LiveSession{}
	}

	result, err := mcp.NewToolResultJSON(live)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

// TrendPoint is one session in a range trend.
type TrendPoint struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"started_at"`
	MeanRange float64   `json:"mean_range"`
	BestRange float64   `json:"best_range"`
}

// RangeTrend summarizes how range of motion develops over sessions.
type RangeTrend struct {
	Exercise string       `json:"exercise"`
	Sessions []TrendPoint `json:"sessions"`
	// SlopePerSession is the least-squares change in mean range per session.
	SlopePerSession float64 `json:"slope_per_session"`
	BestRange       float64 `json:"best_range"`
}

var errNoReps = errors.New("no sessions with counted reps")

// rangeTrend fits a line through the mean range of each session, oldest first.
// Sessions without counted reps are left out.
func rangeTrend(exercise string, rows []models.SessionRow) (*RangeTrend, error) {
	trend := &RangeTrend{Exercise: exercise}
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.RepsCounted == 0 {
			continue
		}
		trend.Sessions = append(trend.Sessions, TrendPoint{
			ID: r.ID, StartedAt: r.StartedAt, MeanRange: r.MeanRange, BestRange: r.BestRange,
		})
	}
	if len(trend.Sessions) == 0 {
		return nil, errNoReps
	}

	xs := make([]float64, len(trend.Sessions))
	ys := make([]float64, len(trend.Sessions))
	best := make([]float64, len(trend.Sessions))
	for i, p := range trend.Sessions {
		xs[i] = float64(i)
		ys[i] = p.MeanRange
		best[i] = p.BestRange
	}
	trend.BestRange = floats.Max(best)
	if len(xs) > 1 {
		_, trend.SlopePerSession = stat.LinearRegression(xs, ys, nil, false)
	}
	return trend, nil
}

func (h *handlers) getRangeTrend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exercise, err := req.RequireString("exercise")
	if err != nil {
		return mcp.NewToolResultError("exercise parameter is required"), nil
	}
	start, end, err := timeRange(req.GetString("start", ""), req.GetString("end", ""), 90)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	rows, err := h.ds.QuerySessions(ctx, models.SessionQuery{
		UserID:   UserIDFromContext(ctx),
		Start:    start,
		End:      end,
		Exercise: exercise,
	})
	if err != nil {
		h.log.Error("mcp get_range_trend", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	trend, err := rangeTrend(exercise, rows)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(trend)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
