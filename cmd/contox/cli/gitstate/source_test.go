package gitstate

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contox/cli/cmd/contox/cli/testutil"
)

func TestRelevant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"HEAD write", fsnotify.Event{Name: "/r/.git/HEAD", Op: fsnotify.Write}, true},
		{"HEAD lock", fsnotify.Event{Name: "/r/.git/HEAD.lock", Op: fsnotify.Create}, false},
		{"branch ref", fsnotify.Event{Name: "/r/.git/refs/heads/main", Op: fsnotify.Create}, true},
		{"branch ref lock", fsnotify.Event{Name: "/r/.git/refs/heads/main.lock", Op: fsnotify.Create}, false},
		{"packed-refs rename", fsnotify.Event{Name: "/r/.git/packed-refs", Op: fsnotify.Rename}, true},
		{"chmod only", fsnotify.Event{Name: "/r/.git/HEAD", Op: fsnotify.Chmod}, false},
		{"index", fsnotify.Event{Name: "/r/.git/index", Op: fsnotify.Write}, false},
		{"remote ref", fsnotify.Event{Name: "/r/.git/refs/remotes/origin/main", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, relevant(tt.ev))
		})
	}
}

func TestNotificationSource_NotARepository(t *testing.T) {
	t.Parallel()

	_, err := NewNotificationSource(t.TempDir())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNotificationSource_CommitEmitsOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	testutil.CommitFiles(t, dir, "first", map[string]string{"a.txt": "a"})

	src, err := NewNotificationSource(dir)
	require.NoError(t, err)
	assert.Equal(t, SourceNotify, src.Name())

	out := make(chan HeadEvent, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = src.Run(ctx, out) }()

	second := testutil.CommitFiles(t, dir, "second", map[string]string{"a.txt": "b"})

	select {
	case ev := <-out:
		assert.Equal(t, second, ev.SHA)
		assert.Equal(t, SourceNotify, ev.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("notification source never reported the new HEAD")
	}

	select {
	case ev := <-out:
		t.Fatalf("unexpected second event for one commit: %+v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNotificationSource_WatchesNewBranchDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	head := testutil.CommitFiles(t, dir, "first", map[string]string{"a.txt": "a"})

	src, err := NewNotificationSource(dir)
	require.NoError(t, err)

	out := make(chan HeadEvent, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = src.Run(ctx, out) }()

	testutil.SetRef(t, dir, "refs/heads/feature/x", head)

	featureDir := filepath.Join(src.gitDir, "refs", "heads", "feature")
	require.Eventually(t, func() bool {
		return slices.Contains(src.watcher.WatchList(), featureDir)
	}, 5*time.Second, 20*time.Millisecond, "new branch directory was not watched")
}

func TestResolveGitDir_Directory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	sub := filepath.Join(dir, "pkg", "inner")
	require.NoError(t, os.MkdirAll(sub, 0o750))

	got, err := ResolveGitDir(sub)
	require.NoError(t, err)
	want, err := filepath.Abs(filepath.Join(dir, ".git"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolveGitDir_FollowsGitdirFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mainRepo := filepath.Join(root, "main")
	testutil.InitRepo(t, mainRepo)

	worktree := filepath.Join(root, "wt")
	require.NoError(t, os.MkdirAll(worktree, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(worktree, ".git"), []byte("gitdir: ../main/.git\n"), 0o600))

	got, err := ResolveGitDir(worktree)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(mainRepo, ".git"), got)
}

func TestResolveGitDir_MalformedGitFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("not a pointer"), 0o600))

	_, err := ResolveGitDir(dir)
	require.ErrorIs(t, err, os.ErrInvalid)
}
