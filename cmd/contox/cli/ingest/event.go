package ingest

import (
	"github.com/contox/cli/cmd/contox/cli/gitevidence"
)

// Event type tags.
const (
	TypeCapture = "vscode_capture"
	TypeSave    = "mcp_save"
)

// Event is a payload the ingest endpoint accepts.
type Event interface {
	EventType() string
}

// CaptureEvent carries one window of buffered activity.
type CaptureEvent struct {
	Type              string                     `json:"type"`
	Commits           []gitevidence.CommitRecord `json:"commits"`
	FilesModified     []string                   `json:"filesModified"`
	SessionDurationMs int64                      `json:"sessionDurationMs"`
	ActiveEditorFiles []string                   `json:"activeEditorFiles,omitempty"`
	// SessionID pins the event to a remote session. Set when a window is
	// flushed on behalf of a session that was just closed.
	SessionID string `json:"sessionId,omitempty"`
}

// EventType implements Event.
func (CaptureEvent) EventType() string { return TypeCapture }

// Change is one categorized item of a save.
type Change struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

// SaveEvent carries a session summary and its categorized changes.
type SaveEvent struct {
	Type          string   `json:"type"`
	Summary       string   `json:"summary"`
	Changes       []Change `json:"changes"`
	HeadCommitSha string   `json:"headCommitSha,omitempty"`
}

// EventType implements Event.
func (SaveEvent) EventType() string { return TypeSave }

// NewCaptureEvent returns a CaptureEvent with the type tag set and nil
// slices replaced by empty ones.
func NewCaptureEvent(commits []gitevidence.CommitRecord, files, active []string, duration int64) CaptureEvent {
	if commits == nil {
		commits = []gitevidence.CommitRecord{}
	}
	if files == nil {
		files = []string{}
	}
	return CaptureEvent{
		Type:              TypeCapture,
		Commits:           commits,
		FilesModified:     files,
		SessionDurationMs: duration,
		ActiveEditorFiles: active,
	}
}

// NewSaveEvent returns a SaveEvent with the type tag set.
func NewSaveEvent(summary string, changes []Change, headSHA string) SaveEvent {
	if changes == nil {
		changes = []Change{}
	}
	return SaveEvent{
		Type:          TypeSave,
		Summary:       summary,
		Changes:       changes,
		HeadCommitSha: headSHA,
	}
}
