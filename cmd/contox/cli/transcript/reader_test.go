package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/contox/cli/cmd/contox/cli/testutil"
)

func userLine(text string) map[string]any {
	return map[string]any{
		"type":      "user",
		"timestamp": "2026-01-02T10:00:00Z",
		"message":   map[string]any{"role": "user", "content": text},
	}
}

func userText(t *testing.T, rec Record) string {
	t.Helper()
	blocks := rec.Blocks()
	require.Len(t, blocks, 1)
	return blocks[0].Text
}

func TestRead_FiltersRecordTypes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.jsonl")
	testutil.AppendJSONL(t, path,
		userLine("hello"),
		map[string]any{"type": "file-history-snapshot"},
		map[string]any{"type": "assistant", "message": map[string]any{"content": []any{}}},
		map[string]any{"type": "user", "isSidechain": true, "message": map[string]any{"content": "side"}},
		map[string]any{"type": "summary"},
	)
	testutil.AppendRaw(t, path, "{not json\n")

	res, err := Read(path, 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, TypeUser, res.Records[0].Type)
	assert.Equal(t, TypeAssistant, res.Records[1].Type)
	assert.Equal(t, 6, res.LinesRead)
	assert.Equal(t, 1, res.Malformed)
}

func TestRead_IncrementalAcrossAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.jsonl")
	testutil.AppendJSONL(t, path, userLine("one"), userLine("two"))

	first, err := Read(path, 0, 0)
	require.NoError(t, err)
	require.Len(t, first.Records, 2)

	again, err := Read(path, first.NewOffset, 0)
	require.NoError(t, err)
	assert.Empty(t, again.Records)
	assert.Equal(t, first.NewOffset, again.NewOffset)

	testutil.AppendJSONL(t, path, userLine("three"))
	next, err := Read(path, first.NewOffset, 0)
	require.NoError(t, err)
	require.Len(t, next.Records, 1)
	assert.Equal(t, "three", userText(t, next.Records[0]))
}

func TestRead_UnterminatedTailIsLeftForLater(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.jsonl")
	testutil.AppendJSONL(t, path, userLine("done"))
	testutil.AppendRaw(t, path, `{"type":"user","message":{"content":"par`)

	res, err := Read(path, 0, 0)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	testutil.AppendRaw(t, path, "tial\"}}\n")
	res2, err := Read(path, res.NewOffset, 0)
	require.NoError(t, err)
	require.Len(t, res2.Records, 1)
	assert.Equal(t, "partial", userText(t, res2.Records[0]))
}

func TestRead_LineCap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.jsonl")
	for i := range 5 {
		testutil.AppendJSONL(t, path, userLine(fmt.Sprintf("m%d", i)))
	}

	res, err := Read(path, 0, 3)
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
	assert.True(t, res.Truncated)

	rest, err := Read(path, res.NewOffset, 3)
	require.NoError(t, err)
	require.Len(t, rest.Records, 2)
	assert.Equal(t, "m3", userText(t, rest.Records[0]))
}

func TestRead_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Read(filepath.Join(t.TempDir(), "absent.jsonl"), 0, 0)
	require.Error(t, err)
}

// Appending a transcript in arbitrary chunks and reading after each chunk
// yields every complete line exactly once, in order, with offsets that
// never move backwards.
func TestRead_CursorMonotonicity(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	rapid.Check(t, func(rt *rapid.T) {
		texts := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,12}`), 1, 12).Draw(rt, "texts")
		var b strings.Builder
		for i, text := range texts {
			fmt.Fprintf(&b, `{"type":"user","message":{"content":"%d-%s"}}`+"\n", i, text)
		}
		content := b.String()

		f, err := os.CreateTemp(base, "t*.jsonl")
		require.NoError(rt, err)
		path := f.Name()
		require.NoError(rt, f.Close())

		var got []string
		var offset int64
		pos := 0
		for pos < len(content) {
			n := rapid.IntRange(1, len(content)-pos).Draw(rt, "chunk")
			af, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
			require.NoError(rt, err)
			_, err = af.WriteString(content[pos : pos+n])
			require.NoError(rt, err)
			require.NoError(rt, af.Close())
			pos += n

			res, err := Read(path, offset, 0)
			require.NoError(rt, err)
			if res.NewOffset < offset {
				rt.Fatalf("offset moved backwards: %d -> %d", offset, res.NewOffset)
			}
			offset = res.NewOffset
			for _, rec := range res.Records {
				blocks := rec.Blocks()
				require.Len(rt, blocks, 1)
				got = append(got, blocks[0].Text)
			}

			again, err := Read(path, offset, 0)
			require.NoError(rt, err)
			if len(again.Records) != 0 || again.NewOffset != offset {
				rt.Fatalf("re-read at %d yielded %d records, offset %d", offset, len(again.Records), again.NewOffset)
			}
		}

		want := make([]string, len(texts))
		for i, text := range texts {
			want[i] = fmt.Sprintf("%d-%s", i, text)
		}
		assert.Equal(rt, want, got)
	})
}
