package gitstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/contox/cli/cmd/contox/cli/logging"
)

// Source names.
const (
	SourceNotify = "notify"
	SourcePoll   = "poll"
)

// DefaultPollInterval is how often PollingSource reads HEAD.
const DefaultPollInterval = 5 * time.Second

// ErrUnavailable means push notifications cannot be used for this repository.
var ErrUnavailable = errors.New("git notifications unavailable")

// HeadEvent reports the commit HEAD resolved to.
type HeadEvent struct {
	SHA    string
	Source string
	At     time.Time
}

// HeadSource produces HeadEvents until ctx is done.
type HeadSource interface {
	Name() string
	Run(ctx context.Context, out chan<- HeadEvent) error
}

// ReadHead resolves HEAD of the repository containing dir to a commit hash.
// Returns "" for an unborn branch.
func ReadHead(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true, EnableDotGitCommonDir: true})
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}
	return headOf(repo)
}

func headOf(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// PollingSource reads HEAD on a fixed interval and emits when it changes.
type PollingSource struct {
	dir      string
	interval time.Duration
}

// NewPollingSource returns a PollingSource for the repository containing dir.
func NewPollingSource(dir string, interval time.Duration) *PollingSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingSource{dir: dir, interval: interval}
}

// Name implements HeadSource.
func (p *PollingSource) Name() string { return SourcePoll }

// Run implements HeadSource.
func (p *PollingSource) Run(ctx context.Context, out chan<- HeadEvent) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sha, err := ReadHead(p.dir)
			if err != nil {
				logging.Debug(ctx, "HEAD poll failed", slog.String("error", err.Error()))
				continue
			}
			if sha == "" || sha == last {
				continue
			}
			last = sha
			if !emit(ctx, out, HeadEvent{SHA: sha, Source: SourcePoll, At: time.Now()}) {
				return nil
			}
		}
	}
}

// NotificationSource watches HEAD, refs/heads and packed-refs with fsnotify
// and resolves HEAD after every change.
type NotificationSource struct {
	dir      string
	gitDir   string
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewNotificationSource sets up the watches. It returns ErrUnavailable when
// the git directory cannot be resolved, fsnotify cannot be created, or
// nothing could be watched.
func NewNotificationSource(dir string) (*NotificationSource, error) {
	gitDir, err := ResolveGitDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	watched := 0
	// HEAD and packed-refs are replaced by rename, so watch their directory.
	if err := w.Add(gitDir); err == nil {
		watched++
	}
	refsHeads := filepath.Join(commonDir(gitDir), "refs", "heads")
	_ = filepath.WalkDir(refsHeads, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if w.Add(path) == nil {
			watched++
		}
		return nil
	})
	if cd := commonDir(gitDir); cd != gitDir {
		if w.Add(cd) == nil {
			watched++
		}
	}

	if watched == 0 {
		_ = w.Close()
		return nil, fmt.Errorf("%w: no paths could be watched", ErrUnavailable)
	}

	return &NotificationSource{dir: dir, gitDir: gitDir, watcher: w, debounce: 100 * time.Millisecond}, nil
}

// Name implements HeadSource.
func (n *NotificationSource) Name() string { return SourceNotify }

// Run implements HeadSource. It closes the fsnotify watcher on return.
func (n *NotificationSource) Run(ctx context.Context, out chan<- HeadEvent) error {
	defer n.watcher.Close()

	var (
		last    string
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-n.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				n.watchNewRefDir(ev.Name)
			}
			if !relevant(ev) {
				continue
			}
			if pending == nil {
				pending = time.After(n.debounce)
			}

		case <-pending:
			pending = nil
			sha, err := ReadHead(n.dir)
			if err != nil {
				logging.Debug(ctx, "HEAD resolve after notification failed", slog.String("error", err.Error()))
				continue
			}
			if sha == "" || sha == last {
				continue
			}
			last = sha
			if !emit(ctx, out, HeadEvent{SHA: sha, Source: SourceNotify, At: time.Now()}) {
				return nil
			}

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn(ctx, "git watcher error", slog.String("error", err.Error()))
		}
	}
}

// watchNewRefDir extends the watch to branch directories created after
// start, e.g. refs/heads/feature/.
func (n *NotificationSource) watchNewRefDir(path string) {
	if !strings.Contains(filepath.ToSlash(path), "/refs/heads/") {
		return
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		_ = n.watcher.Add(path)
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasSuffix(base, ".lock") {
		return false
	}
	if base == "HEAD" || base == "packed-refs" || base == "ORIG_HEAD" {
		return true
	}
	return strings.Contains(filepath.ToSlash(ev.Name), "/refs/heads/")
}

func emit(ctx context.Context, out chan<- HeadEvent, ev HeadEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// ResolveGitDir returns the git directory for the repository containing dir,
// following the "gitdir:" indirection used by worktrees and submodules.
func ResolveGitDir(dir string) (string, error) {
	cur, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	for {
		dotGit := filepath.Join(cur, ".git")
		info, err := os.Stat(dotGit)
		if err == nil {
			if info.IsDir() {
				return dotGit, nil
			}
			return readGitFile(dotGit)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("%s is not inside a git repository", dir)
		}
		cur = parent
	}
}

func readGitFile(path string) (string, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path is <repo>/.git
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	line := strings.TrimSpace(string(content))
	target, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return "", fmt.Errorf("%s: %w", path, os.ErrInvalid)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Clean(target), nil
}

// commonDir returns the shared git directory of a linked worktree, or gitDir itself.
func commonDir(gitDir string) string {
	content, err := os.ReadFile(filepath.Join(gitDir, "commondir")) //nolint:gosec // inside git dir
	if err != nil {
		return gitDir
	}
	cd := strings.TrimSpace(string(content))
	if !filepath.IsAbs(cd) {
		cd = filepath.Join(gitDir, cd)
	}
	return filepath.Clean(cd)
}
