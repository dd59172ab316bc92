package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/contox/cli/cmd/contox/cli/api"
	"github.com/contox/cli/cmd/contox/cli/credentials"
	"github.com/contox/cli/cmd/contox/cli/exclude"
	"github.com/contox/cli/cmd/contox/cli/gitstate"
	"github.com/contox/cli/cmd/contox/cli/ingest"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/paths"
	"github.com/contox/cli/cmd/contox/cli/redact"
	"github.com/contox/cli/cmd/contox/cli/settings"
	"github.com/contox/cli/cmd/contox/cli/transcript"
)

// project holds the clients shared by every command that talks to the
// remote service. Each command builds its own; nothing is global.
type project struct {
	root     string
	settings *settings.Settings
	creds    *credentials.Store
	api      *api.Client
	ingest   *ingest.Client
	filter   *exclude.Filter
	redactor redact.Redactor
}

// openProject loads settings for the repository containing the working
// directory and routes logging to .contox/logs/<logName>.log. Callers must
// call logging.Close.
func openProject(ctx context.Context, logName string) (*project, error) {
	root, err := paths.RepoRoot()
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	return openProjectAt(ctx, root, logName)
}

func openProjectAt(ctx context.Context, root, logName string) (*project, error) {
	s, err := settings.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	logging.SetLogLevelGetter(func() string { return s.LogLevel })
	if err := logging.Init(root, logName); err != nil {
		fmt.Fprintf(os.Stderr, "[contox] Warning: failed to initialize logging: %v\n", err)
	}

	creds := credentials.New(credentials.Options{
		OnMissingSecret: func(projectID string, err error) {
			logging.Warn(ctx, "signing secret unavailable; events will not be sent",
				slog.String("project_id", projectID),
				slog.String("error", err.Error()))
		},
	})
	apiClient := api.NewClient(s.APIURL, creds, nil)
	creds.SetFetcher(apiClient)

	return &project{
		root:     root,
		settings: s,
		creds:    creds,
		api:      apiClient,
		ingest: ingest.NewClient(ingest.Config{
			BaseURL:     s.APIURL,
			ProjectID:   s.ProjectID,
			Source:      s.Source,
			Credentials: creds,
		}),
		filter:   exclude.New(s.Patterns()),
		redactor: redact.Redactor{Enabled: s.RedactEnabled()},
	}, nil
}

func (p *project) configured() error {
	if p.settings.ProjectID == "" {
		return errNotConfigured
	}
	return nil
}

// headSHA returns the current HEAD commit, or "" when it cannot be read.
func (p *project) headSHA() string {
	sha, err := gitstate.ReadHead(p.root)
	if err != nil {
		return ""
	}
	return sha
}

// collector reads transcripts recorded for cwd.
func (p *project) collector(cwd string) *transcript.Collector {
	return &transcript.Collector{
		Cwd:      cwd,
		Cursors:  transcript.NewCursorStore(p.root),
		Redactor: p.redactor,
		MaxLines: transcript.DefaultMaxLines,
		HeadSHA:  p.headSHA,
	}
}

func (p *project) close() {
	p.creds.Purge()
	logging.Close()
}
