package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/contox/cli/cmd/contox/cli/capture"
	"github.com/contox/cli/cmd/contox/cli/control"
	"github.com/contox/cli/cmd/contox/cli/filewatch"
	"github.com/contox/cli/cmd/contox/cli/gitevidence"
	"github.com/contox/cli/cmd/contox/cli/gitstate"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/outbox"
	"github.com/contox/cli/cmd/contox/cli/reconcile"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCmd() *cobra.Command {
	var noFiles bool
	var noSessions bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Capture activity in this repository until interrupted",
		Long: `Watches HEAD, file saves and the remote session, buffering activity and
flushing it to project memory on idle, interval, volume, commit and push.

A local control API (see 'contox flush' and 'contox status') is served on the
configured control address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, watchOptions{files: !noFiles, sessions: !noSessions})
		},
	}

	cmd.Flags().BoolVar(&noFiles, "no-file-events", false, "Do not watch the working tree for file saves")
	cmd.Flags().BoolVar(&noSessions, "no-session-sync", false, "Do not reconcile with the remote session")

	return cmd
}

type watchOptions struct {
	files    bool
	sessions bool
}

func runWatch(cmd *cobra.Command, opts watchOptions) error {
	ctx := cmd.Context()
	p, err := openProject(ctx, "watch")
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.configured(); err != nil {
		return reportSendError(cmd.ErrOrStderr(), "watch", err)
	}
	if _, err := p.creds.Token(ctx); err != nil {
		return reportSendError(cmd.ErrOrStderr(), "watch", err)
	}

	ctx = logging.WithComponent(ctx, "watch")
	s := p.settings

	cfg := capture.Config{
		Root:              p.root,
		IdleTimeout:       s.IdleTimeout.Duration,
		IdleCheckInterval: s.IdleCheckInterval.Duration,
		AutoFlushInterval: s.AutoFlushInterval.Duration,
		MaxEvents:         s.MaxEvents,
		MaxPayloadBytes:   s.MaxPayloadBytes,
		Filter:            p.filter,
		Sender:            p.ingest,
	}
	if s.Requeue() {
		box, err := outbox.Open(p.root)
		if err != nil {
			return fmt.Errorf("opening outbox: %w", err)
		}
		defer box.Close()
		cfg.Outbox = box
	}
	watcher := capture.NewWatcher(cfg)

	sources := []gitstate.HeadSource{gitstate.NewPollingSource(p.root, s.GitPollInterval.Duration)}
	if ns, err := gitstate.NewNotificationSource(p.root); err != nil {
		logging.Warn(ctx, "HEAD notifications unavailable, polling only", slog.String("error", err.Error()))
	} else {
		sources = append(sources, ns)
	}
	tracker := gitstate.NewTracker(gitstate.Config{
		Dir:     p.root,
		Sources: sources,
		Extractor: gitevidence.New(gitevidence.Options{
			Dir:          p.root,
			Filter:       p.filter,
			IncludeDiffs: s.DiffsEnabled(),
			Redactor:     p.redactor,
		}),
		Sink:        watcher,
		UpstreamRef: s.UpstreamRef,
	})

	srvCfg := control.Config{
		Capture:  watcher,
		GitState: func() string { return tracker.State().String() },
	}
	var reconciler *reconcile.Reconciler
	if opts.sessions {
		reconciler = reconcile.New(reconcile.Config{
			ProjectID:    s.ProjectID,
			Source:       s.Source,
			PollInterval: s.SessionPollInterval.Duration,
			Sessions:     p.api,
			Capture:      watcher,
		})
		srvCfg.Sessions = reconciler
	}

	var files *filewatch.Watcher
	if opts.files {
		files, err = filewatch.New(p.root, p.filter, watcher)
		if err != nil {
			logging.Warn(ctx, "file save events unavailable", slog.String("error", err.Error()))
			files = nil
		} else {
			defer files.Close()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return tracker.Run(gctx) })
	if reconciler != nil {
		g.Go(func() error { return reconciler.Run(gctx) })
	}
	if files != nil {
		g.Go(func() error { return files.Run(gctx) })
	}
	g.Go(func() error { return control.NewServer(srvCfg).ListenAndServe(gctx, s.ControlAddr) })

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (control API on %s). Press Ctrl+C to stop.\n", p.root, s.ControlAddr)
	logging.Info(ctx, "watch started",
		slog.String("root", p.root),
		slog.String("project_id", s.ProjectID),
		slog.String("failure_policy", s.FailurePolicy))

	runErr := g.Wait()

	report, err := watcher.Shutdown(ctx)
	printFlushReport(cmd.OutOrStdout(), report)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn(ctx, "final flush failed", slog.String("error", err.Error()))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("watch stopped: %w", runErr)
	}
	return nil
}
