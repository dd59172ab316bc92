// Package gitstate observes HEAD movements and turns them into captured
// commits. Notification and polling sources run side by side and feed one
// channel; the tracker consumes it serially.
package gitstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/contox/cli/cmd/contox/cli/capture"
	"github.com/contox/cli/cmd/contox/cli/gitevidence"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/metrics"
)

// State is the tracker lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateNotifications
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateNotifications:
		return "tracking-via-notifications"
	case StatePolling:
		return "tracking-via-polling"
	default:
		return "uninitialized"
	}
}

// Extractor builds commit records.
type Extractor interface {
	Range(ctx context.Context, from, to string) []gitevidence.CommitRecord
	Single(ctx context.Context, sha string) gitevidence.CommitRecord
}

// Sink receives captured commits and flush requests.
type Sink interface {
	AddCommits(ctx context.Context, records []gitevidence.CommitRecord)
	Flush(ctx context.Context, trigger capture.Trigger) (capture.FlushReport, error)
}

// Config configures a Tracker.
type Config struct {
	// Dir is any directory inside the repository.
	Dir       string
	Sources   []HeadSource
	Extractor Extractor
	Sink      Sink
	// UpstreamRef overrides push detection's comparison ref.
	UpstreamRef string
}

// Tracker turns HEAD changes into captured commits.
type Tracker struct {
	cfg   Config
	state atomic.Int32

	mu       sync.Mutex
	lastHead string
}

// NewTracker returns a Tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// LastHead returns the last HEAD the tracker processed.
func (t *Tracker) LastHead() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHead
}

// Run reads the baseline HEAD without capturing it, starts every source and
// processes their events until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	ctx = logging.WithComponent(ctx, "gitstate")

	if sha, err := ReadHead(t.cfg.Dir); err == nil {
		t.mu.Lock()
		t.lastHead = sha
		t.mu.Unlock()
	} else {
		logging.Debug(ctx, "no baseline HEAD", slog.String("error", err.Error()))
	}

	state := StatePolling
	for _, s := range t.cfg.Sources {
		if s.Name() == SourceNotify {
			state = StateNotifications
		}
	}
	t.state.Store(int32(state))
	logging.Info(ctx, "git tracking started", slog.String("state", state.String()), slog.Int("sources", len(t.cfg.Sources)))

	events := make(chan HeadEvent, 16)
	var wg sync.WaitGroup
	for _, s := range t.cfg.Sources {
		wg.Add(1)
		go func(s HeadSource) {
			defer wg.Done()
			if err := s.Run(ctx, events); err != nil {
				logging.Warn(ctx, "git source stopped", slog.String("source", s.Name()), slog.String("error", err.Error()))
			}
		}(s)
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			t.Handle(ctx, ev)
		}
	}
}

// Handle processes one HEAD observation. Observations equal to the last
// processed HEAD are ignored, so both sources reporting the same move
// produce one capture.
func (t *Tracker) Handle(ctx context.Context, ev HeadEvent) {
	t.mu.Lock()
	prev := t.lastHead
	if ev.SHA == "" || ev.SHA == prev {
		t.mu.Unlock()
		return
	}
	t.lastHead = ev.SHA
	t.mu.Unlock()

	metrics.ObserveHeadChange(ev.Source)
	logging.Debug(ctx, "HEAD changed", slog.String("source", ev.Source), slog.String("from", short(prev)), slog.String("to", short(ev.SHA)))

	var records []gitevidence.CommitRecord
	if prev == "" {
		records = []gitevidence.CommitRecord{t.cfg.Extractor.Single(ctx, ev.SHA)}
	} else {
		records = t.cfg.Extractor.Range(ctx, prev, ev.SHA)
	}
	if len(records) == 0 {
		return
	}

	t.cfg.Sink.AddCommits(ctx, records)
	if _, err := t.cfg.Sink.Flush(ctx, capture.TriggerCommit); err != nil {
		logging.Debug(ctx, "commit flush failed", slog.String("error", err.Error()))
	}

	pushed, err := t.headMatchesUpstream(ev.SHA)
	if err != nil {
		logging.Debug(ctx, "upstream check failed", slog.String("error", err.Error()))
		return
	}
	if pushed {
		if _, err := t.cfg.Sink.Flush(ctx, capture.TriggerPush); err != nil {
			logging.Debug(ctx, "push flush failed", slog.String("error", err.Error()))
		}
	}
}

// headMatchesUpstream reports whether the upstream ref points at head.
func (t *Tracker) headMatchesUpstream(head string) (bool, error) {
	repo, err := git.PlainOpenWithOptions(t.cfg.Dir, &git.PlainOpenOptions{DetectDotGit: true, EnableDotGitCommonDir: true})
	if err != nil {
		return false, fmt.Errorf("opening repository: %w", err)
	}
	refName, err := UpstreamRef(repo, t.cfg.UpstreamRef)
	if err != nil {
		return false, err
	}
	ref, err := repo.Reference(refName, true)
	if err != nil {
		return false, nil //nolint:nilerr // no upstream means not pushed
	}
	return ref.Hash().String() == head, nil
}

// UpstreamRef returns the ref push detection compares HEAD with: the
// configured override, else the branch's tracking config, else
// refs/remotes/origin/<branch>.
func UpstreamRef(repo *git.Repository, override string) (plumbing.ReferenceName, error) {
	if override != "" {
		return plumbing.ReferenceName(override), nil
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", errors.New("HEAD is detached")
	}
	branch := head.Name().Short()

	if cfg, err := repo.Config(); err == nil {
		if b, ok := cfg.Branches[branch]; ok && b.Remote != "" && b.Merge != "" {
			return plumbing.NewRemoteReferenceName(b.Remote, b.Merge.Short()), nil
		}
	}
	return plumbing.NewRemoteReferenceName("origin", branch), nil
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// BranchName returns the short name of the checked-out branch, or "" when
// HEAD is detached.
func BranchName(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true, EnableDotGitCommonDir: true})
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}
