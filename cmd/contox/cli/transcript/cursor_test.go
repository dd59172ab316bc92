package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contox/cli/cmd/contox/cli/testutil"
)

func TestCursorStore_RoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewCursorStore(root)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	c, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Cursor{}, c)

	require.NoError(t, store.Save("abc", 42))
	c, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, Cursor{SessionID: "abc", ByteOffset: 42, SavedAt: fixed}, c)
	assert.FileExists(t, filepath.Join(root, ".contox", "transcript-cursor.json"))
}

func TestCursorStore_OffsetFor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	transcriptPath := filepath.Join(root, "abc.jsonl")
	testutil.AppendRaw(t, transcriptPath, "0123456789\n")

	store := NewCursorStore(root)
	require.NoError(t, store.Save("abc", 5))

	off, err := store.OffsetFor("abc", transcriptPath)
	require.NoError(t, err)
	assert.Equal(t, int64(5), off)

	off, err = store.OffsetFor("other", transcriptPath)
	require.NoError(t, err)
	assert.Zero(t, off, "different transcript resets the cursor")

	require.NoError(t, store.Save("abc", 500))
	off, err = store.OffsetFor("abc", transcriptPath)
	require.NoError(t, err)
	assert.Zero(t, off, "shrunk transcript resets the cursor")
}

func TestCursorStore_CorruptFileStartsOver(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewCursorStore(root)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o750))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{oops"), 0o600))

	c, err := store.Load()
	require.NoError(t, err)
	assert.Zero(t, c.ByteOffset)
}
