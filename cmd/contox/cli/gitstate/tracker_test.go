package gitstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contox/cli/cmd/contox/cli/capture"
	"github.com/contox/cli/cmd/contox/cli/gitevidence"
	"github.com/contox/cli/cmd/contox/cli/testutil"
)

type fakeExtractor struct {
	mu      sync.Mutex
	ranges  [][2]string
	singles []string
}

func (f *fakeExtractor) Range(_ context.Context, from, to string) []gitevidence.CommitRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]string{from, to})
	return []gitevidence.CommitRecord{{SHA: to}}
}

func (f *fakeExtractor) Single(_ context.Context, sha string) gitevidence.CommitRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, sha)
	return gitevidence.CommitRecord{SHA: sha}
}

type fakeSink struct {
	mu       sync.Mutex
	added    []string
	triggers []capture.Trigger
	flushed  chan capture.Trigger
}

func newFakeSink() *fakeSink {
	return &fakeSink{flushed: make(chan capture.Trigger, 16)}
}

func (f *fakeSink) AddCommits(_ context.Context, records []gitevidence.CommitRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.added = append(f.added, r.SHA)
	}
}

func (f *fakeSink) Flush(_ context.Context, trigger capture.Trigger) (capture.FlushReport, error) {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger)
	f.mu.Unlock()
	f.flushed <- trigger
	return capture.FlushReport{Trigger: trigger}, nil
}

func (f *fakeSink) Triggers() []capture.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture.Trigger(nil), f.triggers...)
}

type chanSource struct {
	name string
	in   chan HeadEvent
}

func (c *chanSource) Name() string { return c.name }

func (c *chanSource) Run(ctx context.Context, out chan<- HeadEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.in:
			if !emit(ctx, out, ev) {
				return nil
			}
		}
	}
}

func TestHandle_UnknownPreviousUsesSingle(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{}
	sink := newFakeSink()
	tr := NewTracker(Config{Dir: t.TempDir(), Extractor: ext, Sink: sink})

	tr.Handle(context.Background(), HeadEvent{SHA: "aaa", Source: SourcePoll})

	assert.Equal(t, []string{"aaa"}, ext.singles)
	assert.Empty(t, ext.ranges)
	assert.Equal(t, []string{"aaa"}, sink.added)
	assert.Equal(t, []capture.Trigger{capture.TriggerCommit}, sink.Triggers())
	assert.Equal(t, "aaa", tr.LastHead())
}

func TestHandle_KnownPreviousUsesRange(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{}
	sink := newFakeSink()
	tr := NewTracker(Config{Dir: t.TempDir(), Extractor: ext, Sink: sink})

	tr.Handle(context.Background(), HeadEvent{SHA: "aaa", Source: SourcePoll})
	tr.Handle(context.Background(), HeadEvent{SHA: "bbb", Source: SourceNotify})

	assert.Equal(t, [][2]string{{"aaa", "bbb"}}, ext.ranges)
}

func TestHandle_DuplicateObservationIgnored(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{}
	sink := newFakeSink()
	tr := NewTracker(Config{Dir: t.TempDir(), Extractor: ext, Sink: sink})

	tr.Handle(context.Background(), HeadEvent{SHA: "aaa", Source: SourceNotify})
	tr.Handle(context.Background(), HeadEvent{SHA: "aaa", Source: SourcePoll})
	tr.Handle(context.Background(), HeadEvent{SHA: "", Source: SourcePoll})

	assert.Len(t, ext.singles, 1)
	assert.Len(t, sink.Triggers(), 1)
}

func TestRun_BaselineIsNotCaptured(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	base := testutil.CommitFiles(t, dir, "initial", map[string]string{"a.txt": "a"})

	ext := &fakeExtractor{}
	sink := newFakeSink()
	src := &chanSource{name: SourceNotify, in: make(chan HeadEvent, 4)}
	tr := NewTracker(Config{Dir: dir, Sources: []HeadSource{src}, Extractor: ext, Sink: sink, UpstreamRef: "refs/remotes/origin/none"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	src.in <- HeadEvent{SHA: base, Source: SourceNotify}
	src.in <- HeadEvent{SHA: "ccc", Source: SourceNotify}

	select {
	case trig := <-sink.flushed:
		assert.Equal(t, capture.TriggerCommit, trig)
	case <-time.After(5 * time.Second):
		t.Fatal("no flush observed")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, ext.singles)
	ext.mu.Lock()
	assert.Equal(t, [][2]string{{base, "ccc"}}, ext.ranges)
	ext.mu.Unlock()
	assert.Equal(t, StateNotifications, tr.State())
}

func TestHandle_PushDetected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	first := testutil.CommitFiles(t, dir, "first", map[string]string{"a.txt": "a"})
	second := testutil.CommitFiles(t, dir, "second", map[string]string{"a.txt": "b"})

	ext := &fakeExtractor{}
	sink := newFakeSink()
	tr := NewTracker(Config{Dir: dir, Extractor: ext, Sink: sink})

	head, err := ReadHead(dir)
	require.NoError(t, err)
	branch := "master"
	if ref := currentBranch(t, dir); ref != "" {
		branch = ref
	}

	// upstream behind HEAD: commit flush only
	testutil.SetRef(t, dir, "refs/remotes/origin/"+branch, first)
	tr.Handle(context.Background(), HeadEvent{SHA: head, Source: SourcePoll})
	assert.Equal(t, []capture.Trigger{capture.TriggerCommit}, sink.Triggers())

	// upstream caught up: commit then push
	testutil.SetRef(t, dir, "refs/remotes/origin/"+branch, second)
	tr.Handle(context.Background(), HeadEvent{SHA: first, Source: SourcePoll})
	tr.Handle(context.Background(), HeadEvent{SHA: second, Source: SourcePoll})
	assert.Equal(t, []capture.Trigger{
		capture.TriggerCommit,
		capture.TriggerCommit,
		capture.TriggerCommit, capture.TriggerPush,
	}, sink.Triggers())
}

func TestUpstreamRef_Override(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	testutil.CommitFiles(t, dir, "first", map[string]string{"a.txt": "a"})

	sink := newFakeSink()
	tr := NewTracker(Config{Dir: dir, Extractor: &fakeExtractor{}, Sink: sink, UpstreamRef: "refs/heads/" + currentBranch(t, dir)})

	head, err := ReadHead(dir)
	require.NoError(t, err)
	tr.Handle(context.Background(), HeadEvent{SHA: head, Source: SourcePoll})

	assert.Equal(t, []capture.Trigger{capture.TriggerCommit, capture.TriggerPush}, sink.Triggers())
}

func TestPollingSource_EmitsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	testutil.CommitFiles(t, dir, "first", map[string]string{"a.txt": "a"})

	src := NewPollingSource(dir, 20*time.Millisecond)
	out := make(chan HeadEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = src.Run(ctx, out) }()

	second := testutil.CommitFiles(t, dir, "second", map[string]string{"a.txt": "b"})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-out:
			if ev.SHA == second {
				assert.Equal(t, SourcePoll, ev.Source)
				return
			}
		case <-deadline:
			t.Fatal("polling source never reported the new HEAD")
		}
	}
}

func currentBranch(t *testing.T, dir string) string {
	t.Helper()
	name, err := BranchName(dir)
	require.NoError(t, err)
	return name
}
