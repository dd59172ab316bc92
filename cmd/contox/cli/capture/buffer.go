package capture

import (
	"encoding/json"
	"time"

	"github.com/contox/cli/cmd/contox/cli/gitevidence"
)

// Buffer accumulates evidence for one capture window. It is not safe for
// concurrent use; the Watcher owns it and guards it with its mutex.
type Buffer struct {
	commits    []gitevidence.CommitRecord
	commitSeen map[string]struct{}

	filesModified *orderedSet
	activeFiles   *orderedSet

	sessionStart time.Time
	lastActivity time.Time

	eventCount  int
	payloadSize int
}

func newBuffer(now time.Time) *Buffer {
	return &Buffer{
		commitSeen:    make(map[string]struct{}),
		filesModified: newOrderedSet(),
		activeFiles:   newOrderedSet(),
		sessionStart:  now,
		lastActivity:  now,
	}
}

// addCommits appends commits not already in the window. Each new commit is
// one evidence unit; its files join filesModified without counting again.
func (b *Buffer) addCommits(records []gitevidence.CommitRecord, now time.Time) int {
	added := 0
	for _, rec := range records {
		if _, ok := b.commitSeen[rec.SHA]; ok {
			continue
		}
		b.commitSeen[rec.SHA] = struct{}{}
		b.commits = append(b.commits, rec)
		b.eventCount++
		b.payloadSize += recordSize(rec)
		for _, f := range rec.FilesChanged {
			if b.filesModified.add(f) {
				b.payloadSize += pathSize(f)
			}
		}
		added++
	}
	if added > 0 {
		b.lastActivity = now
	}
	return added
}

// recordSave adds a saved path. Only the first save of a path in the window
// counts as evidence.
func (b *Buffer) recordSave(path string, now time.Time) bool {
	b.lastActivity = now
	if !b.filesModified.add(path) {
		return false
	}
	b.eventCount++
	b.payloadSize += pathSize(path)
	return true
}

// recordFocus adds a focused path. Focus never counts as evidence.
func (b *Buffer) recordFocus(path string, now time.Time) {
	b.lastActivity = now
	if b.activeFiles.add(path) {
		b.payloadSize += pathSize(path)
	}
}

func (b *Buffer) empty() bool {
	return b.eventCount == 0 && len(b.commits) == 0 && b.filesModified.len() == 0
}

// Snapshot is an immutable copy of a Buffer taken at flush time.
type Snapshot struct {
	Commits           []gitevidence.CommitRecord
	FilesModified     []string
	ActiveEditorFiles []string
	SessionStart      time.Time
	LastActivity      time.Time
	EventCount        int
	PayloadSize       int
	SessionID         string
}

// Duration is the window length at time now.
func (s Snapshot) Duration(now time.Time) time.Duration {
	if s.SessionStart.IsZero() || now.Before(s.SessionStart) {
		return 0
	}
	return now.Sub(s.SessionStart)
}

func (b *Buffer) snapshot() Snapshot {
	commits := make([]gitevidence.CommitRecord, len(b.commits))
	copy(commits, b.commits)
	return Snapshot{
		Commits:           commits,
		FilesModified:     b.filesModified.values(),
		ActiveEditorFiles: b.activeFiles.values(),
		SessionStart:      b.sessionStart,
		LastActivity:      b.lastActivity,
		EventCount:        b.eventCount,
		PayloadSize:       b.payloadSize,
	}
}

func recordSize(rec gitevidence.CommitRecord) int {
	data, err := json.Marshal(rec)
	if err != nil {
		return len(rec.Diff) + len(rec.Message) + 128
	}
	return len(data) + 1
}

// pathSize is the serialized cost of one path in a JSON string array.
func pathSize(p string) int {
	return len(p) + 3
}

// orderedSet is a string set that remembers insertion order.
type orderedSet struct {
	index map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

func (s *orderedSet) len() int { return len(s.order) }

func (s *orderedSet) values() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
