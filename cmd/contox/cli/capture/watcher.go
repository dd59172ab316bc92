// Package capture owns the capture buffer and decides when it is flushed to
// the ingest endpoint.
//
// Every trigger converges on one send path. The decision to flush and the
// snapshot+reset of the buffer happen in one critical section, so evidence
// recorded while a send is running always lands in the next window.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/contox/cli/cmd/contox/cli/exclude"
	"github.com/contox/cli/cmd/contox/cli/gitevidence"
	"github.com/contox/cli/cmd/contox/cli/ingest"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/metrics"
	"github.com/contox/cli/cmd/contox/cli/paths"
)

// ShutdownFlushTimeout bounds the final flush on shutdown.
const ShutdownFlushTimeout = 2 * time.Second

// ErrFlushInProgress is returned when a timer-driven flush is skipped
// because another send is running.
var ErrFlushInProgress = errors.New("flush already in progress")

// Sender delivers a serialized event.
type Sender interface {
	SendRaw(ctx context.Context, eventType string, payload []byte) (*ingest.Result, error)
}

// Outbox holds events whose automatic flush failed.
type Outbox interface {
	Enqueue(ctx context.Context, eventType string, payload []byte) error
	Drain(ctx context.Context, send func(ctx context.Context, eventType string, payload []byte) error) (int, error)
}

// Config configures a Watcher.
type Config struct {
	// Root is the repository root; absolute paths are made relative to it.
	Root string

	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	AutoFlushInterval time.Duration
	MaxEvents         int
	MaxPayloadBytes   int

	Filter *exclude.Filter
	Sender Sender

	// Outbox receives failed background sends when set.
	Outbox Outbox

	// Now overrides the clock.
	Now func() time.Time
}

// FlushReport describes one flush.
type FlushReport struct {
	Trigger   Trigger   `json:"trigger"`
	Result    string    `json:"result"`
	Commits   int       `json:"commits"`
	Files     int       `json:"files"`
	EventID   string    `json:"eventId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Status is a point-in-time view of the Watcher.
type Status struct {
	WatcherID         string       `json:"watcherId"`
	SessionID         string       `json:"sessionId,omitempty"`
	EventCount        int          `json:"eventCount"`
	PayloadBytes      int          `json:"payloadBytes"`
	Commits           int          `json:"commits"`
	FilesModified     int          `json:"filesModified"`
	ActiveEditorFiles int          `json:"activeEditorFiles"`
	WindowStart       time.Time    `json:"windowStart"`
	LastActivity      time.Time    `json:"lastActivity"`
	SendInFlight      bool         `json:"sendInFlight"`
	LastFlush         *FlushReport `json:"lastFlush,omitempty"`
}

// Watcher owns the capture buffer.
type Watcher struct {
	cfg    Config
	policy Policy
	now    func() time.Time
	id     string

	mu        sync.Mutex
	buf       *Buffer
	sessionID string
	lastFlush *FlushReport

	sendMu   sync.Mutex
	inFlight atomic.Bool

	warnLimiter rate.Sometimes
}

// NewWatcher returns a Watcher with an empty buffer.
func NewWatcher(cfg Config) *Watcher {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.IdleCheckInterval <= 0 {
		cfg.IdleCheckInterval = 30 * time.Second
	}
	if cfg.AutoFlushInterval <= 0 {
		cfg.AutoFlushInterval = 15 * time.Minute
	}
	return &Watcher{
		cfg: cfg,
		policy: Policy{
			IdleTimeout:     cfg.IdleTimeout,
			MaxEvents:       cfg.MaxEvents,
			MaxPayloadBytes: cfg.MaxPayloadBytes,
		},
		now:         now,
		id:          uuid.NewString(),
		buf:         newBuffer(now()),
		warnLimiter: rate.Sometimes{Interval: time.Minute},
	}
}

// AddCommits appends captured commits and runs the volume check.
func (w *Watcher) AddCommits(ctx context.Context, records []gitevidence.CommitRecord) {
	if len(records) == 0 {
		return
	}
	w.mutate(ctx, func(b *Buffer, now time.Time) {
		n := b.addCommits(records, now)
		metrics.AddCommits(n)
	})
}

// RecordSave records a saved file. Excluded paths are ignored entirely.
func (w *Watcher) RecordSave(ctx context.Context, path string) bool {
	rel, ok := w.admit(path)
	if !ok {
		return false
	}
	var counted bool
	w.mutate(ctx, func(b *Buffer, now time.Time) {
		counted = b.recordSave(rel, now)
	})
	return counted
}

// RecordFocus records a focused file.
func (w *Watcher) RecordFocus(path string) {
	rel, ok := w.admit(path)
	if !ok {
		return
	}
	w.mu.Lock()
	w.buf.recordFocus(rel, w.now())
	w.mu.Unlock()
}

func (w *Watcher) admit(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	rel := exclude.Normalize(paths.ToRelative(w.cfg.Root, path))
	if w.cfg.Filter.Excluded(rel) {
		return "", false
	}
	return rel, true
}

// mutate applies fn under the buffer lock and, if the window crossed a
// volume threshold, takes it for flushing in the same critical section.
func (w *Watcher) mutate(ctx context.Context, fn func(b *Buffer, now time.Time)) {
	w.mu.Lock()
	now := w.now()
	fn(w.buf, now)
	var snap *Snapshot
	if w.policy.shouldFlush(w.buf, TriggerVolume, now) {
		s := w.takeLocked(now)
		snap = &s
	}
	metrics.SetBuffer(w.buf.eventCount, w.buf.payloadSize)
	w.mu.Unlock()

	if snap != nil {
		_, _ = w.deliver(ctx, *snap, TriggerVolume)
	}
}

// takeLocked snapshots the buffer and replaces it with a fresh one.
// Callers hold w.mu.
func (w *Watcher) takeLocked(now time.Time) Snapshot {
	snap := w.buf.snapshot()
	snap.SessionID = w.sessionID
	w.buf = newBuffer(now)
	return snap
}

// Flush sends the buffer if trigger's condition holds. An empty buffer makes
// no network call. The buffer is reset whether or not the send succeeds.
func (w *Watcher) Flush(ctx context.Context, trigger Trigger) (FlushReport, error) {
	if trigger.Timed() && w.inFlight.Load() {
		metrics.ObserveFlush(string(trigger), metrics.ResultSkipped)
		return FlushReport{Trigger: trigger, Result: metrics.ResultSkipped, At: w.now()}, ErrFlushInProgress
	}

	w.mu.Lock()
	now := w.now()
	if !w.policy.shouldFlush(w.buf, trigger, now) {
		w.mu.Unlock()
		metrics.ObserveFlush(string(trigger), metrics.ResultEmpty)
		return FlushReport{Trigger: trigger, Result: metrics.ResultEmpty, At: now}, nil
	}
	snap := w.takeLocked(now)
	metrics.SetBuffer(0, 0)
	w.mu.Unlock()

	return w.deliver(ctx, snap, trigger)
}

// ForceFlush sends whatever is buffered, attributed to sessionID, and starts
// a fresh window. Used when the remote session was closed externally.
func (w *Watcher) ForceFlush(ctx context.Context, sessionID string) (FlushReport, error) {
	w.mu.Lock()
	now := w.now()
	if w.buf.empty() {
		w.buf = newBuffer(now)
		w.mu.Unlock()
		return FlushReport{Trigger: TriggerSessionClosed, Result: metrics.ResultEmpty, SessionID: sessionID, At: now}, nil
	}
	snap := w.takeLocked(now)
	snap.SessionID = sessionID
	metrics.SetBuffer(0, 0)
	w.mu.Unlock()

	return w.deliver(ctx, snap, TriggerSessionClosed)
}

// Reset discards the buffer and starts a fresh window.
func (w *Watcher) Reset() {
	w.mu.Lock()
	w.buf = newBuffer(w.now())
	w.mu.Unlock()
	metrics.SetBuffer(0, 0)
}

// SetSession sets the remote session new windows are attributed to.
func (w *Watcher) SetSession(sessionID string) {
	w.mu.Lock()
	w.sessionID = sessionID
	w.mu.Unlock()
}

// SessionID returns the tracked remote session.
func (w *Watcher) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Status returns a snapshot of the counters.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		WatcherID:         w.id,
		SessionID:         w.sessionID,
		EventCount:        w.buf.eventCount,
		PayloadBytes:      w.buf.payloadSize,
		Commits:           len(w.buf.commits),
		FilesModified:     w.buf.filesModified.len(),
		ActiveEditorFiles: w.buf.activeFiles.len(),
		WindowStart:       w.buf.sessionStart,
		LastActivity:      w.buf.lastActivity,
		SendInFlight:      w.inFlight.Load(),
	}
	if w.lastFlush != nil {
		lf := *w.lastFlush
		st.LastFlush = &lf
	}
	return st
}

// deliver sends one snapshot. Sends are serialized.
func (w *Watcher) deliver(ctx context.Context, snap Snapshot, trigger Trigger) (FlushReport, error) {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	w.inFlight.Store(true)
	defer w.inFlight.Store(false)

	ctx = logging.WithTrigger(logging.WithComponent(ctx, "capture"), string(trigger))
	if snap.SessionID != "" {
		ctx = logging.WithSession(ctx, snap.SessionID)
	}

	report := FlushReport{
		Trigger:   trigger,
		Commits:   len(snap.Commits),
		Files:     len(snap.FilesModified),
		SessionID: snap.SessionID,
		At:        w.now(),
	}

	ev := ingest.NewCaptureEvent(snap.Commits, snap.FilesModified, snap.ActiveEditorFiles, snap.Duration(report.At).Milliseconds())
	ev.SessionID = snap.SessionID
	payload, err := json.Marshal(ev)
	if err != nil {
		return w.finish(ctx, report, fmt.Errorf("encoding capture event: %w", err))
	}

	res, err := w.cfg.Sender.SendRaw(ctx, ingest.TypeCapture, payload)
	if err != nil {
		if trigger.Background() && w.cfg.Outbox != nil && !ingest.IsCredentialError(err) {
			qErr := w.cfg.Outbox.Enqueue(ctx, ingest.TypeCapture, payload)
			if qErr == nil {
				report.Result = metrics.ResultRequeued
				report.Error = err.Error()
				logging.Info(ctx, "flush failed, event requeued", slog.String("error", err.Error()))
				return w.record(report), nil
			}
			logging.Warn(ctx, "requeue failed", slog.String("error", qErr.Error()))
		}
		return w.finish(ctx, report, err)
	}

	report.Result = metrics.ResultSent
	report.EventID = res.EventID
	logging.Info(ctx, "buffer flushed",
		slog.Int("commits", report.Commits),
		slog.Int("files", report.Files),
		slog.Int("events", snap.EventCount),
		slog.String("event_id", res.EventID))

	if w.cfg.Outbox != nil {
		w.drainOutbox(ctx)
	}
	return w.record(report), nil
}

func (w *Watcher) finish(ctx context.Context, report FlushReport, err error) (FlushReport, error) {
	report.Result = metrics.ResultFailed
	report.Error = err.Error()
	if report.Trigger.Background() {
		w.warnLimiter.Do(func() {
			logging.Warn(ctx, "background flush failed, window dropped", slog.String("error", err.Error()))
		})
	} else {
		logging.Error(ctx, "flush failed", slog.String("error", err.Error()))
	}
	return w.record(report), err
}

func (w *Watcher) record(report FlushReport) FlushReport {
	metrics.ObserveFlush(string(report.Trigger), report.Result)
	w.mu.Lock()
	w.lastFlush = &report
	w.mu.Unlock()
	return report
}

func (w *Watcher) drainOutbox(ctx context.Context) {
	n, err := w.cfg.Outbox.Drain(ctx, func(ctx context.Context, eventType string, payload []byte) error {
		_, err := w.cfg.Sender.SendRaw(ctx, eventType, payload)
		return err
	})
	if err != nil {
		logging.Debug(ctx, "outbox drain stopped", slog.String("error", err.Error()))
	}
	if n > 0 {
		logging.Info(ctx, "requeued events delivered", slog.Int("count", n))
	}
}

// Run drives the idle and periodic flush timers until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	idle := time.NewTicker(w.cfg.IdleCheckInterval)
	defer idle.Stop()
	periodic := time.NewTicker(w.cfg.AutoFlushInterval)
	defer periodic.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
			_, _ = w.Flush(ctx, TriggerIdle)
		case <-periodic.C:
			_, _ = w.Flush(ctx, TriggerInterval)
		}
	}
}

// Shutdown makes a best-effort final flush bounded by ShutdownFlushTimeout.
// Call it after the context driving Run has been cancelled.
func (w *Watcher) Shutdown(ctx context.Context) (FlushReport, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownFlushTimeout)
	defer cancel()
	return w.Flush(ctx, TriggerShutdown)
}
