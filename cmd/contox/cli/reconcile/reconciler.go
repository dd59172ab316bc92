// Package reconcile keeps the capture buffer aligned with the remote
// session. When the tracked session is closed from outside, buffered
// evidence is flushed against it before a new session is opened.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/contox/cli/cmd/contox/cli/api"
	"github.com/contox/cli/cmd/contox/cli/capture"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/metrics"
)

// DefaultPollInterval is how often remote session state is checked.
const DefaultPollInterval = 30 * time.Second

// PollLimit is how many recent sessions each poll inspects.
const PollLimit = 5

// Rotation reasons.
const (
	ReasonExternalClose = "external_close"
	ReasonManualEnd     = "manual_end"
	ReasonNoSession     = "no_session"
)

// State is the reconciler's view of the remote session.
type State int

const (
	StateNone State = iota
	StateTracking
)

func (s State) String() string {
	if s == StateTracking {
		return "tracking"
	}
	return "none"
}

// ErrNoSession is returned by EndSession when no session is tracked.
var ErrNoSession = errors.New("no active session")

// Sessions is the remote session API.
type Sessions interface {
	ActiveSession(ctx context.Context, projectID string, limit int) (*api.Session, error)
	CreateSession(ctx context.Context, projectID, source string) (string, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// Capture is the buffer owner the reconciler coordinates.
type Capture interface {
	ForceFlush(ctx context.Context, sessionID string) (capture.FlushReport, error)
	SetSession(sessionID string)
}

// Config configures a Reconciler.
type Config struct {
	ProjectID    string
	Source       string
	PollInterval time.Duration
	Sessions     Sessions
	Capture      Capture
}

// Reconciler polls remote session state. Polls and EndSession are
// serialized.
type Reconciler struct {
	cfg Config

	mu      sync.Mutex
	state   State
	current string
}

// New returns a Reconciler in StateNone.
func New(cfg Config) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Reconciler{cfg: cfg}
}

// State returns the current state and tracked session id.
func (r *Reconciler) State() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.current
}

// Run polls immediately and then on every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ctx = logging.WithComponent(ctx, "reconcile")
	_ = r.Poll(ctx) //nolint:errcheck // logged in Poll, retried next tick

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = r.Poll(ctx) //nolint:errcheck // logged in Poll, retried next tick
		}
	}
}

// Poll checks remote state once and applies the transition it implies.
func (r *Reconciler) Poll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.cfg.Sessions.ActiveSession(ctx, r.cfg.ProjectID, PollLimit)
	if err != nil {
		logging.Debug(ctx, "session poll failed", slog.String("error", err.Error()))
		return fmt.Errorf("polling sessions: %w", err)
	}

	switch {
	case active != nil && r.state == StateTracking && active.ID == r.current:
		return nil
	case active != nil:
		if r.state == StateTracking {
			logging.Info(ctx, "remote session changed", slog.String("from", r.current), slog.String("to", active.ID))
		}
		r.track(active.ID)
		return nil
	case r.state == StateTracking:
		logging.Info(ctx, "remote session closed externally", slog.String("session_id", r.current))
		return r.rotateLocked(ctx, ReasonExternalClose)
	default:
		return r.createLocked(ctx, ReasonNoSession)
	}
}

// EndSession closes the tracked session on request and opens a new one.
// Errors are returned rather than absorbed.
func (r *Reconciler) EndSession(ctx context.Context) (capture.FlushReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateTracking {
		return capture.FlushReport{}, ErrNoSession
	}
	old := r.current
	report, err := r.cfg.Capture.ForceFlush(ctx, old)
	if err != nil {
		return report, fmt.Errorf("flushing session %s: %w", old, err)
	}
	if err := r.cfg.Sessions.CloseSession(ctx, old); err != nil {
		return report, fmt.Errorf("closing session %s: %w", old, err)
	}
	r.untrack()
	if err := r.createLocked(ctx, ReasonManualEnd); err != nil {
		return report, err
	}
	return report, nil
}

// rotateLocked runs flush, reset, create and track in that order.
// A failed flush does not stop the rotation.
func (r *Reconciler) rotateLocked(ctx context.Context, reason string) error {
	old := r.current
	report, _ := r.cfg.Capture.ForceFlush(ctx, old) //nolint:errcheck // failures are logged by the watcher
	logging.Debug(ctx, "flushed closed session",
		slog.String("session_id", old),
		slog.String("result", report.Result),
		slog.Int("commits", report.Commits))

	r.untrack()
	return r.createLocked(ctx, reason)
}

func (r *Reconciler) createLocked(ctx context.Context, reason string) error {
	id, err := r.cfg.Sessions.CreateSession(ctx, r.cfg.ProjectID, r.cfg.Source)
	metrics.ObserveSessionRotation(reason, err == nil)
	if err != nil {
		logging.Warn(ctx, "could not create session", slog.String("reason", reason), slog.String("error", err.Error()))
		return fmt.Errorf("creating session: %w", err)
	}
	logging.Info(ctx, "session created", slog.String("session_id", id), slog.String("reason", reason))
	r.track(id)
	return nil
}

func (r *Reconciler) track(id string) {
	r.state = StateTracking
	r.current = id
	r.cfg.Capture.SetSession(id)
}

func (r *Reconciler) untrack() {
	r.state = StateNone
	r.current = ""
	r.cfg.Capture.SetSession("")
}
