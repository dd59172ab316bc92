package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls a running watcher's control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the server listening on addr.
func NewClient(addr string) *Client {
	return &Client{baseURL: "http://" + addr, http: &http.Client{Timeout: 30 * time.Second}}
}

// APIError is a non-2xx control response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Flush asks the watcher for a manual flush.
func (c *Client) Flush(ctx context.Context) (FlushResponse, error) {
	var out FlushResponse
	err := c.do(ctx, http.MethodPost, "/v1/flush", &out)
	return out, err
}

// EndSession asks the watcher to end the current session.
func (c *Client) EndSession(ctx context.Context) (FlushResponse, error) {
	var out FlushResponse
	err := c.do(ctx, http.MethodPost, "/v1/session/end", &out)
	return out, err
}

// Status fetches the watcher status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting watcher: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		var body ErrorResponse
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message, apiErr.Code = body.Error, body.Code
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
