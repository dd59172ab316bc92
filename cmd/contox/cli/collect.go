package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/contox/cli/cmd/contox/cli/ingest"
	"github.com/contox/cli/cmd/contox/cli/jsonutil"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/transcript"
	"github.com/spf13/cobra"
)

// eventSender delivers one event.
type eventSender interface {
	Send(ctx context.Context, ev ingest.Event) (*ingest.Result, error)
}

// batchSource reads a transcript increment and persists the cursor.
type batchSource interface {
	Prepare(loc transcript.Located) (*transcript.Batch, error)
	Commit(b *transcript.Batch) error
}

type collectOptions struct {
	// skipIfSaved skips sending when the agent already called the save tool.
	skipIfSaved bool
	dryRun      bool
}

type collectOutcome struct {
	batch  *transcript.Batch
	result *ingest.Result
	// skipped names why nothing was sent; "" when sent.
	skipped string
}

const (
	skipEmpty   = "no new activity"
	skipSaved   = "session already saved by the agent"
	skipDryRun  = "dry run"
	skipUnknown = ""
)

// collectTranscript sends the facts of the unread part of a transcript as a
// save event. The cursor only advances once the increment is delivered or
// deliberately skipped.
func collectTranscript(ctx context.Context, sender eventSender, src batchSource, loc transcript.Located, opts collectOptions) (collectOutcome, error) {
	batch, err := src.Prepare(loc)
	if err != nil {
		return collectOutcome{}, fmt.Errorf("reading transcript: %w", err)
	}
	out := collectOutcome{batch: batch}

	switch {
	case opts.dryRun:
		out.skipped = skipDryRun
		return out, nil
	case batch.Facts.Empty():
		out.skipped = skipEmpty
	case opts.skipIfSaved && batch.Facts.ContoxSaveCalled:
		out.skipped = skipSaved
	}

	if out.skipped == skipUnknown {
		res, err := sender.Send(ctx, batch.Event)
		if err != nil {
			return out, err
		}
		out.result = res
	}

	if err := src.Commit(batch); err != nil {
		return out, err
	}
	logging.Info(ctx, "transcript collected",
		slog.String("transcript", loc.Path),
		slog.Int64("from", batch.Offset),
		slog.Int64("to", batch.NewOffset),
		slog.Bool("sent", out.result != nil),
		slog.String("skipped", out.skipped))
	return out, nil
}

func newCollectCmd() *cobra.Command {
	var transcriptPath string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Send new activity from the latest Claude Code transcript",
		Long: `Reads the part of the Claude Code transcript not yet collected, extracts
requests, edited files and commands, and sends them as a session save.

Without --transcript, the newest transcript recorded for the current
directory is used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logging.WithComponent(cmd.Context(), "collect")
			p, err := openProject(ctx, "collect")
			if err != nil {
				return err
			}
			defer p.close()
			if err := p.configured(); err != nil && !dryRun {
				return reportSendError(cmd.ErrOrStderr(), "collect", err)
			}

			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting working directory: %w", err)
			}
			collector := p.collector(cwd)

			loc := transcript.At(transcriptPath)
			if transcriptPath == "" {
				loc, err = collector.Locate()
				if errors.Is(err, transcript.ErrNoTranscript) {
					fmt.Fprintln(cmd.OutOrStdout(), "No Claude Code transcript found for this directory.")
					return nil
				}
				if err != nil {
					return err
				}
			}

			out, err := collectTranscript(ctx, p.ingest, collector, loc, collectOptions{dryRun: dryRun})
			if err != nil {
				return reportSendError(cmd.ErrOrStderr(), "collect", err)
			}
			return printCollectOutcome(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "Path to a transcript JSONL file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the event that would be sent without sending it")

	return cmd
}

func printCollectOutcome(w io.Writer, out collectOutcome) error {
	switch {
	case out.skipped == skipDryRun:
		data, err := jsonutil.MarshalIndentWithNewline(out.batch.Event, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling event: %w", err)
		}
		_, err = w.Write(data)
		return err
	case out.skipped != skipUnknown:
		fmt.Fprintf(w, "Nothing sent: %s.\n", out.skipped)
	default:
		fmt.Fprintln(w, styleOK.Render(out.batch.Event.Summary))
		fmt.Fprintf(w, "Sent (event %s, session %s)\n", out.result.EventID, out.result.SessionID)
	}
	if out.batch != nil && out.batch.Truncated {
		fmt.Fprintln(w, "More transcript remains; run collect again to continue.")
	}
	return nil
}
