// Package gitevidence turns git history into commit records: headers from
// git log, per-file stats from numstat and, for small commits, a bounded patch.
//
// Every git failure is treated as "no data" for the affected field. Callers
// never see a git error.
package gitevidence

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/contox/cli/cmd/contox/cli/exclude"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/redact"
)

// Record limits.
const (
	MaxRangeCommits = 50
	ShortSHALen     = 12
	MaxMessageLen   = 500
	MaxAuthorLen    = 200
)

// CommitRecord is one commit as reported to the ingest endpoint.
type CommitRecord struct {
	SHA          string   `json:"sha"`
	Message      string   `json:"message"`
	Author       string   `json:"author"`
	Timestamp    string   `json:"timestamp"`
	FilesChanged []string `json:"filesChanged"`
	Insertions   int      `json:"insertions"`
	Deletions    int      `json:"deletions"`
	Diff         string   `json:"diff,omitempty"`
}

// Options configures an Extractor.
type Options struct {
	// Dir is the repository working directory. Ignored when Runner is set.
	Dir string
	// Runner overrides the git subprocess runner.
	Runner Runner
	// Filter drops excluded paths from file lists and diffs.
	Filter *exclude.Filter
	// IncludeDiffs attaches patches to small commits.
	IncludeDiffs bool
	// Redactor scrubs attached patches.
	Redactor redact.Redactor
}

// Extractor builds CommitRecords for a repository.
type Extractor struct {
	run          Runner
	filter       *exclude.Filter
	includeDiffs bool
	redactor     redact.Redactor
}

// New returns an Extractor.
func New(opts Options) *Extractor {
	run := opts.Runner
	if run == nil {
		run = ExecRunner(opts.Dir, DefaultTimeout, DefaultMaxOutput)
	}
	return &Extractor{
		run:          run,
		filter:       opts.Filter,
		includeDiffs: opts.IncludeDiffs,
		redactor:     opts.Redactor,
	}
}

// Range returns records for the commits reachable from to but not from,
// oldest first, at most MaxRangeCommits. If the range lookup fails entirely,
// only the tip commit is returned.
func (e *Extractor) Range(ctx context.Context, from, to string) []CommitRecord {
	ctx = logging.WithComponent(ctx, "gitevidence")
	defer logging.LogDuration(ctx, slog.LevelDebug, "commit range captured", time.Now(),
		slog.String("from", shortSHA(from)), slog.String("to", shortSHA(to)))

	out, err := e.run(ctx, "log", "--reverse", "--no-color",
		"--max-count="+strconv.Itoa(MaxRangeCommits), "--format="+logFormat, from+".."+to)
	if err != nil && !errors.Is(err, ErrOutputTruncated) {
		logging.Debug(ctx, "range lookup failed, capturing tip only", slog.String("error", err.Error()))
		return []CommitRecord{e.Single(ctx, to)}
	}

	entries, malformed := ParseLog(out)
	if malformed > 0 {
		logging.Debug(ctx, "skipped malformed log records", slog.Int("count", malformed))
	}
	if len(entries) == 0 && malformed > 0 {
		return []CommitRecord{e.Single(ctx, to)}
	}

	records := make([]CommitRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, e.build(ctx, entry))
	}
	return records
}

// Single returns the record for one commit. Fields git cannot supply are left
// empty; the timestamp falls back to the current time.
func (e *Extractor) Single(ctx context.Context, sha string) CommitRecord {
	ctx = logging.WithComponent(ctx, "gitevidence")

	entry := LogEntry{SHA: sha}
	out, err := e.run(ctx, "log", "-1", "--no-color", "--format="+logFormat, sha)
	if err != nil {
		logging.Debug(ctx, "commit header lookup failed", slog.String("sha", shortSHA(sha)), slog.String("error", err.Error()))
	} else if entries, _ := ParseLog(out); len(entries) > 0 {
		entry = entries[0]
	}
	return e.build(ctx, entry)
}

func (e *Extractor) build(ctx context.Context, entry LogEntry) CommitRecord {
	rec := CommitRecord{
		SHA:          shortSHA(entry.SHA),
		Message:      truncateRunes(entry.Subject, MaxMessageLen),
		Author:       truncateRunes(entry.Author, MaxAuthorLen),
		Timestamp:    entry.Date,
		FilesChanged: []string{},
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	out, err := e.run(ctx, "show", "--numstat", "--no-renames", "--no-color", "--format=", entry.SHA)
	if err != nil && !errors.Is(err, ErrOutputTruncated) {
		logging.Debug(ctx, "numstat failed", slog.String("sha", rec.SHA), slog.String("error", err.Error()))
		return rec
	}
	stats, malformed := ParseNumstat(out)
	if malformed > 0 {
		logging.Debug(ctx, "skipped malformed numstat lines", slog.String("sha", rec.SHA), slog.Int("count", malformed))
	}
	for _, st := range stats {
		if e.filter.Excluded(st.Path) {
			continue
		}
		rec.FilesChanged = append(rec.FilesChanged, exclude.Normalize(st.Path))
		rec.Insertions += st.Added
		rec.Deletions += st.Removed
	}

	if e.includeDiffs && rec.Insertions+rec.Deletions > 0 && rec.Insertions+rec.Deletions <= MaxDiffLines {
		rec.Diff = e.patch(ctx, entry.SHA)
	}
	return rec
}

func (e *Extractor) patch(ctx context.Context, sha string) string {
	out, err := e.run(ctx, "show", "--no-color", "--no-ext-diff", "--no-renames", "--format=", sha)
	if err != nil && !errors.Is(err, ErrOutputTruncated) {
		logging.Debug(ctx, "patch lookup failed", slog.String("sha", shortSHA(sha)), slog.String("error", err.Error()))
		return ""
	}
	diff := FilterDiff(string(out), e.filter)
	diff = e.redactor.Diff(diff)
	return TruncateDiff(diff, MaxDiffChars)
}

func shortSHA(sha string) string {
	if len(sha) > ShortSHALen {
		return sha[:ShortSHALen]
	}
	return sha
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
