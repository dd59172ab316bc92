// Package api talks to the remote session and project endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds one API request.
const DefaultTimeout = 10 * time.Second

// Session statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

const maxResponseBytes = 1 << 20

// TokenSource supplies the bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Session is a remote capture session.
type Session struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
	Source    string    `json:"source,omitempty"`
}

// Active reports whether the session accepts new evidence.
func (s Session) Active() bool { return s.Status == StatusActive }

// Error is a non-2xx API response.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed (%d): %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Client calls the remote API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// NewClient returns a Client. A nil httpClient uses DefaultTimeout.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens, http: httpClient}
}

// ListSessions returns the most recent sessions of a project, newest first.
func (c *Client) ListSessions(ctx context.Context, projectID string, limit int) ([]Session, error) {
	q := url.Values{}
	q.Set("projectId", projectID)
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// ActiveSession returns the first active session among the most recent
// ones, or nil when there is none.
func (c *Client) ActiveSession(ctx context.Context, projectID string, limit int) (*Session, error) {
	sessions, err := c.ListSessions(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].Active() {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// CreateSession opens a new session and returns its id.
func (c *Client) CreateSession(ctx context.Context, projectID, source string) (string, error) {
	in := map[string]string{"projectId": projectID, "source": source}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", in, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", errors.New("create session: response carried no session id")
	}
	return out.SessionID, nil
}

// CloseSession closes a session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/close", struct{}{}, nil)
}

// FetchHMACSecret provisions the project's signing secret.
func (c *Client) FetchHMACSecret(ctx context.Context, projectID string) (string, error) {
	var out struct {
		HMACSecret string `json:"hmacSecret"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/projects/"+url.PathEscape(projectID)+"/hmac-secret", nil, &out); err != nil {
		return "", err
	}
	return out.HMACSecret, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.tokens == nil {
		return fmt.Errorf("%s %s: no token source", method, path)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Method: method, Path: strings.SplitN(path, "?", 2)[0], StatusCode: resp.StatusCode, Message: resp.Status}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
