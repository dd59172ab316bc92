package gitevidence

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contox/cli/cmd/contox/cli/exclude"
	"github.com/contox/cli/cmd/contox/cli/testutil"
)

// fakeGit answers by the first two git arguments.
type fakeGit struct {
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func (f *fakeGit) run(_ context.Context, args ...string) ([]byte, error) {
	key := args[0]
	if len(args) > 1 {
		key += " " + args[1]
	}
	f.calls = append(f.calls, strings.Join(args, " "))
	if err, ok := f.failures[key]; ok {
		return nil, err
	}
	return []byte(f.responses[key]), nil
}

func TestRange_FallsBackToTipOnFailure(t *testing.T) {
	t.Parallel()

	git := &fakeGit{
		failures: map[string]error{"log --reverse": errors.New("bad revision")},
		responses: map[string]string{
			"log -1":         shaB + "\x1ftip\x1fAda\x1f2026-01-01T10:00:00Z\x1e\n",
			"show --numstat": "1\t1\tmain.go\n",
		},
	}
	e := New(Options{Runner: git.run})

	records := e.Range(context.Background(), shaA, shaB)

	require.Len(t, records, 1)
	assert.Equal(t, shaB[:12], records[0].SHA)
	assert.Equal(t, "tip", records[0].Message)
	assert.Equal(t, []string{"main.go"}, records[0].FilesChanged)
}

func TestSingle_NumstatFailureLeavesStatsEmpty(t *testing.T) {
	t.Parallel()

	git := &fakeGit{
		failures: map[string]error{"show --numstat": errors.New("timeout")},
		responses: map[string]string{
			"log -1": shaA + "\x1fmsg\x1fAda\x1f2026-01-01T10:00:00Z\x1e\n",
		},
	}
	rec := New(Options{Runner: git.run, IncludeDiffs: true}).Single(context.Background(), shaA)

	assert.Equal(t, "msg", rec.Message)
	assert.Empty(t, rec.FilesChanged)
	assert.Zero(t, rec.Insertions)
	assert.Empty(t, rec.Diff)
}

func TestSingle_HeaderFailureStillReturnsRecord(t *testing.T) {
	t.Parallel()

	git := &fakeGit{failures: map[string]error{"log -1": errors.New("boom")}}
	rec := New(Options{Runner: git.run}).Single(context.Background(), shaA)

	assert.Equal(t, shaA[:12], rec.SHA)
	assert.NotEmpty(t, rec.Timestamp)
}

func TestBuild_TruncatesFieldsAndSkipsLargePatch(t *testing.T) {
	t.Parallel()

	longMsg := strings.Repeat("m", 800)
	longAuthor := strings.Repeat("a", 300)
	git := &fakeGit{
		responses: map[string]string{
			"log -1":         shaA + "\x1f" + longMsg + "\x1f" + longAuthor + "\x1f2026-01-01T10:00:00Z\x1e\n",
			"show --numstat": "250\t100\tbig.go\n",
		},
	}
	rec := New(Options{Runner: git.run, IncludeDiffs: true}).Single(context.Background(), shaA)

	assert.Len(t, rec.Message, MaxMessageLen)
	assert.Len(t, rec.Author, MaxAuthorLen)
	assert.Equal(t, 250, rec.Insertions)
	assert.Equal(t, 100, rec.Deletions)
	assert.Empty(t, rec.Diff, "commits over the line threshold carry no patch")
	for _, c := range git.calls {
		assert.NotContains(t, c, "--no-ext-diff", "patch must not be requested")
	}
}

func TestBuild_ExcludedFilesDropped(t *testing.T) {
	t.Parallel()

	git := &fakeGit{
		responses: map[string]string{
			"log -1":         shaA + "\x1fm\x1fAda\x1f2026-01-01T10:00:00Z\x1e\n",
			"show --numstat": "1\t0\tsecrets.env\n2\t1\tapp.go\n900\t0\tpackage-lock.json\n",
			"show --no-color": "diff --git a/app.go b/app.go\n+x\n",
		},
	}
	rec := New(Options{
		Runner:       git.run,
		Filter:       exclude.New(exclude.Defaults()),
		IncludeDiffs: true,
	}).Single(context.Background(), shaA)

	assert.Equal(t, []string{"app.go"}, rec.FilesChanged)
	assert.Equal(t, 2, rec.Insertions)
	assert.Equal(t, 1, rec.Deletions)
	assert.Equal(t, "diff --git a/app.go b/app.go\n+x\n", rec.Diff)
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// Two commits discovered in one observation: A -> B -> C with from=A, to=C
// must yield both B and C with their own file lists.
func TestRange_RealRepository(t *testing.T) {
	t.Parallel()
	requireGit(t)

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	shaA := testutil.CommitFiles(t, dir, "A: initial", map[string]string{"README.md": "hello\n"})
	testutil.CommitFiles(t, dir, "B: add parser", map[string]string{"parser.go": "package p\n"})
	shaC := testutil.CommitFiles(t, dir, "C: add lexer", map[string]string{
		"lexer.go":    "package p\n\nfunc lex() {}\n",
		"secrets.env": "TOKEN=1\n",
	})

	e := New(Options{
		Dir:          dir,
		Filter:       exclude.New(exclude.Defaults()),
		IncludeDiffs: true,
	})
	records := e.Range(context.Background(), shaA, shaC)

	require.Len(t, records, 2)

	assert.Equal(t, "B: add parser", records[0].Message)
	assert.Equal(t, []string{"parser.go"}, records[0].FilesChanged)
	assert.Equal(t, 1, records[0].Insertions)

	assert.Equal(t, testutil.ShortSHA(shaC), records[1].SHA)
	assert.Equal(t, "C: add lexer", records[1].Message)
	assert.Equal(t, []string{"lexer.go"}, records[1].FilesChanged)
	assert.Equal(t, 3, records[1].Insertions)
	assert.Contains(t, records[1].Diff, "+func lex() {}")
	assert.NotContains(t, records[1].Diff, "TOKEN=1")
	assert.Equal(t, "Test User", records[1].Author)
}

func TestRange_RealRepositoryBadFromFallsBack(t *testing.T) {
	t.Parallel()
	requireGit(t)

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	tip := testutil.CommitFiles(t, dir, "only commit", map[string]string{"a.go": "package a\n"})

	records := New(Options{Dir: dir}).Range(context.Background(), "0000000000000000000000000000000000000000", tip)

	require.Len(t, records, 1)
	assert.Equal(t, "only commit", records[0].Message)
	assert.Equal(t, []string{"a.go"}, records[0].FilesChanged)
}
