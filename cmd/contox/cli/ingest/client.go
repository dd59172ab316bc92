// Package ingest builds signed envelopes and delivers them to the remote
// ingest endpoint. Sends are never retried here; the caller decides what a
// failure means for its buffer.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contox/cli/cmd/contox/cli/credentials"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/metrics"
)

// DefaultTimeout bounds one ingest request.
const DefaultTimeout = 10 * time.Second

// Path is the ingest endpoint relative to the API base URL.
const Path = "/api/v1/ingest"

// isoMillis matches the millisecond ISO-8601 form the server expects.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

var (
	// ErrMissingToken is returned without any network call when no bearer token is set.
	ErrMissingToken = credentials.ErrMissingToken
	// ErrMissingSecret is returned without any network call when the project secret is unavailable.
	ErrMissingSecret = credentials.ErrMissingSecret
)

// Credentials supplies the bearer token and signing secret.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	WithSecret(ctx context.Context, projectID string, fn func(secret []byte) error) error
}

// Envelope is the signed request body.
type Envelope struct {
	Source         string          `json:"source"`
	Timestamp      string          `json:"timestamp"`
	Nonce          string          `json:"nonce"`
	Signature      string          `json:"signature"`
	ProjectID      string          `json:"projectId"`
	Event          json.RawMessage `json:"event"`
	SkipEnrichment bool            `json:"skipEnrichment"`
}

// Result is a successful ingest response.
type Result struct {
	EventID         string `json:"eventId"`
	SessionID       string `json:"sessionId"`
	Status          string `json:"status"`
	EnrichmentJobID string `json:"enrichmentJobId,omitempty"`
}

// Error is a non-2xx ingest response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest rejected (%d): %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	ProjectID   string
	Source      string
	Credentials Credentials
	HTTPClient  *http.Client
	// Now overrides the envelope clock.
	Now func() time.Time
}

// Client sends events to the ingest endpoint.
type Client struct {
	baseURL   string
	projectID string
	source    string
	creds     Credentials
	http      *http.Client
	now       func() time.Time
}

// NewClient returns a Client.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		projectID: cfg.ProjectID,
		source:    cfg.Source,
		creds:     cfg.Credentials,
		http:      hc,
		now:       now,
	}
}

// ProjectID returns the project events are sent for.
func (c *Client) ProjectID() string { return c.projectID }

// Send serializes ev and delivers it.
func (c *Client) Send(ctx context.Context, ev Event) (*Result, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", ev.EventType(), err)
	}
	return c.SendRaw(ctx, ev.EventType(), payload)
}

// SendRaw signs and delivers an already serialized event. A fresh envelope,
// nonce and signature are built on every call.
func (c *Client) SendRaw(ctx context.Context, eventType string, payload []byte) (*Result, error) {
	if c.creds == nil {
		return nil, ErrMissingToken
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	env, err := c.envelope(ctx, payload)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	start := time.Now()
	res, err := c.post(ctx, token, body)
	metrics.ObserveIngest(eventType, err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	logging.Debug(logging.WithComponent(ctx, "ingest"), "event accepted",
		slog.String("event_type", eventType),
		slog.String("event_id", res.EventID),
		slog.Int("payload_bytes", len(payload)))
	return res, nil
}

func (c *Client) envelope(ctx context.Context, payload []byte) (*Envelope, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		Source:         c.source,
		Timestamp:      c.now().UTC().Format(isoMillis),
		Nonce:          nonce,
		ProjectID:      c.projectID,
		Event:          json.RawMessage(payload),
		SkipEnrichment: true,
	}
	err = c.creds.WithSecret(ctx, c.projectID, func(secret []byte) error {
		env.Signature = Sign(secret, payload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (c *Client) post(ctx context.Context, token string, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending ingest request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading ingest response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(resp, data)
	}

	var res Result
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("parsing ingest response: %w", err)
		}
	}
	return &res, nil
}

func classify(resp *http.Response, data []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{StatusCode: resp.StatusCode, Message: msg}
}

// IsCredentialError reports whether err is a missing token or secret, the
// class of failure the user fixes by re-running setup.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingToken) || errors.Is(err, ErrMissingSecret)
}
