// Package remote drives live sessions on a rehabreps server over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/rehabreps/internal/pose"
	"github.com/meltforce/rehabreps/internal/session"
)

const maxAttempts = 3

// SessionRequest is the body that creates a server session.
type SessionRequest struct {
	Exercise         string       `json:"exercise"`
	Side             session.Mode `json:"side,omitempty"`
	Reps             int          `json:"reps,omitempty"`
	Sets             int          `json:"sets,omitempty"`
	RestSeconds      *int         `json:"rest_seconds,omitempty"`
	CountdownSeconds *int         `json:"countdown_seconds,omitempty"`
	MinScore         float64      `json:"min_score,omitempty"`
}

// Session is a live server session and its latest progress.
type Session struct {
	ID        uuid.UUID        `json:"id"`
	Exercise  string           `json:"exercise"`
	CreatedAt time.Time        `json:"created_at"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

// StatusError is returned for responses with an unexpected status code.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// retryable reports whether another attempt could succeed. For requests that
// must not run twice only statuses returned before any processing qualify.
func (e *StatusError) retryable(idempotent bool) bool {
	if e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests {
		return true
	}
	return idempotent && e.Status >= 500
}

// retryable reports whether err allows another attempt. A request that is not
// idempotent is only resent when it certainly never reached the server.
func retryable(err error, idempotent bool) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.retryable(idempotent)
	}
	if idempotent {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}

// Client sends frames to a rehabreps server.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	// backoff is the delay before the second attempt; it doubles after that.
	backoff time.Duration
}

// NewClient creates a client for the server at serverURL.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: time.Second,
	}
}

// CreateSession starts a session on the server.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", req, http.StatusCreated, &s); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &s, nil
}

// GetSession fetches the latest progress of a session.
func (c *Client) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+id.String(), nil, http.StatusOK, &s); err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &s, nil
}

// SendFrames posts a batch of frames to a session and returns the progress
// after the server processed them.
func (c *Client) SendFrames(ctx context.Context, id uuid.UUID, frames []pose.Frame) (session.Snapshot, error) {
	var resp struct {
		Accepted int              `json:"accepted"`
		Snapshot session.Snapshot `json:"snapshot"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id.String()+"/frames", frames, http.StatusOK, &resp); err != nil {
		return session.Snapshot{}, fmt.Errorf("sending frames: %w", err)
	}
	if resp.Accepted != len(frames) {
		return resp.Snapshot, fmt.Errorf("server accepted %d of %d frames", resp.Accepted, len(frames))
	}
	return resp.Snapshot, nil
}

// DeleteSession aborts and removes a session.
func (c *Client) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+id.String(), nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// do sends the request, retrying transport errors and server errors with
// exponential backoff. POSTs create sessions or feed frames, so they are only
// retried when the server cannot have acted on them. The response is decoded into v when v is not nil.
func (c *Client) do(ctx context.Context, method, path string, body any, want int, v any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.once(ctx, method, path, data, want, v)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err, method != http.MethodPost) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, data []byte, want int, v any) error {
	var rdr io.Reader
	if data != nil {
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, rdr)
	if err != nil {
		return err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
