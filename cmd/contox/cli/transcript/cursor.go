package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/contox/cli/cmd/contox/cli/jsonutil"
	"github.com/contox/cli/cmd/contox/cli/paths"
)

// Cursor is the persisted replay position for one transcript.
type Cursor struct {
	SessionID  string    `json:"sessionId"`
	ByteOffset int64     `json:"byteOffset"`
	SavedAt    time.Time `json:"savedAt"`
}

// CursorStore loads and saves the cursor file of one project.
type CursorStore struct {
	path string
	now  func() time.Time
}

// NewCursorStore returns a store for <root>/.contox/transcript-cursor.json.
func NewCursorStore(root string) *CursorStore {
	return &CursorStore{path: paths.ContoxFile(root, paths.CursorFileName), now: time.Now}
}

// Path returns the cursor file location.
func (s *CursorStore) Path() string { return s.path }

// Load returns the saved cursor, or a zero cursor when none exists or the
// file is unreadable.
func (s *CursorStore) Load() (Cursor, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Cursor{}, nil
		}
		return Cursor{}, fmt.Errorf("reading cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, nil //nolint:nilerr // a corrupt cursor restarts from zero
	}
	if c.ByteOffset < 0 {
		c.ByteOffset = 0
	}
	return c, nil
}

// OffsetFor returns where reading of the given transcript should resume.
// The offset resets to zero when the cursor belongs to another transcript or
// the file is now shorter than the saved offset.
func (s *CursorStore) OffsetFor(sessionID, transcriptPath string) (int64, error) {
	c, err := s.Load()
	if err != nil {
		return 0, err
	}
	if c.SessionID != sessionID {
		return 0, nil
	}
	info, err := os.Stat(transcriptPath)
	if err != nil {
		return 0, fmt.Errorf("stat transcript: %w", err)
	}
	if info.Size() < c.ByteOffset {
		return 0, nil
	}
	return c.ByteOffset, nil
}

// Save persists the cursor atomically.
func (s *CursorStore) Save(sessionID string, offset int64) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating cursor directory: %w", err)
	}
	c := Cursor{SessionID: sessionID, ByteOffset: offset, SavedAt: s.now().UTC()}
	if err := jsonutil.WriteFileAtomic(s.path, c, 0o600); err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return nil
}
