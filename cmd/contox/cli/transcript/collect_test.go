package transcript

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contox/cli/cmd/contox/cli/testutil"
)

func TestCollector_PrepareCommit(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	testutil.AppendJSONL(t, path, userLine("first request"))

	c := &Collector{Cursors: NewCursorStore(root), HeadSHA: func() string { return "abc" }}
	loc := At(path)

	b, err := c.Prepare(loc)
	require.NoError(t, err)
	assert.Equal(t, []string{"first request"}, b.Facts.UserRequests)
	assert.Equal(t, "abc", b.Event.HeadCommitSha)

	// not committed: the same lines come back
	again, err := c.Prepare(loc)
	require.NoError(t, err)
	assert.Equal(t, b.Facts.UserRequests, again.Facts.UserRequests)

	require.NoError(t, c.Commit(b))
	after, err := c.Prepare(loc)
	require.NoError(t, err)
	assert.True(t, after.Facts.Empty())

	testutil.AppendJSONL(t, path, userLine("second request"))
	next, err := c.Prepare(loc)
	require.NoError(t, err)
	assert.Equal(t, []string{"second request"}, next.Facts.UserRequests)
}

func TestCollector_NewTranscriptStartsAtZero(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := t.TempDir()
	first := filepath.Join(dir, "a.jsonl")
	second := filepath.Join(dir, "b.jsonl")
	testutil.AppendJSONL(t, first, userLine("one"), userLine("two"))
	testutil.AppendJSONL(t, second, userLine("three"))

	c := &Collector{Cursors: NewCursorStore(root)}
	b, err := c.Prepare(At(first))
	require.NoError(t, err)
	require.NoError(t, c.Commit(b))

	nb, err := c.Prepare(At(second))
	require.NoError(t, err)
	assert.Zero(t, nb.Offset)
	assert.Equal(t, []string{"three"}, nb.Facts.UserRequests)
}
