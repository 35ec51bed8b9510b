package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/models"
)

// HTTPClient implements DataSource by calling the RehabReps REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the remote server (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL. apiKey is
// sent on every request; live session routes require it.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, v any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) ListExercises(ctx context.Context) ([]*exercise.Definition, error) {
	var defs []*exercise.Definition
	if err := c.get(ctx, "/api/v1/exercises", nil, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// QuerySessions ignores q.UserID; the server scopes history to the caller.
func (c *HTTPClient) QuerySessions(ctx context.Context, q models.SessionQuery) ([]models.SessionRow, error) {
	params := url.Values{}
	if !q.Start.IsZero() {
		params.Set("start", q.Start.Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		params.Set("end", q.End.Format(time.RFC3339))
	}
	if q.Exercise != "" {
		params.Set("exercise", q.Exercise)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var rows []models.SessionRow
	if err := c.get(ctx, "/api/v1/history", params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id uuid.UUID, _ int) (*models.SessionDetail, error) {
	var detail models.SessionDetail
	if err := c.get(ctx, "/api/v1/history/"+id.String(), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *HTTPClient) LiveSessions(ctx context.Context, _ int) ([]LiveSession, error) {
	var live []LiveSession
	if err := c.get(ctx, "/api/v1/sessions", nil, &live); err != nil {
		return nil, err
	}
	return live, nil
}
