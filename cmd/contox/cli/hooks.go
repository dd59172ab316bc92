package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/transcript"
	"github.com/spf13/cobra"
)

// stopHookInput is the JSON Claude Code writes to a Stop hook's stdin.
type stopHookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	StopHookActive bool   `json:"stop_hook_active"`
}

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hooks",
		Short:  "Hook handlers",
		Long:   "Commands called by agent hooks. These are internal and not for direct user use.",
		Hidden: true,
	}

	claude := &cobra.Command{
		Use:   "claude-code",
		Short: "Claude Code hook handlers",
	}
	claude.AddCommand(newClaudeStopHookCmd())
	cmd.AddCommand(claude)

	return cmd
}

func newClaudeStopHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Collect the transcript when Claude Code stops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logging.WithComponent(cmd.Context(), "hooks")
			input, err := parseStopHookInput(cmd.InOrStdin())
			if err != nil {
				// The hook must never fail the agent's stop.
				logging.Warn(ctx, "stop hook: unreadable input", slog.String("error", err.Error()))
				return nil
			}

			ctx = logging.WithSession(ctx, input.SessionID)
			p, err := openProject(ctx, "hooks")
			if err != nil {
				logging.Warn(ctx, "stop hook: opening project failed", slog.String("error", err.Error()))
				return nil
			}
			defer p.close()

			if err := p.configured(); err != nil {
				logging.Debug(ctx, "stop hook: project not configured")
				return nil
			}

			handleStopHook(ctx, cmd.ErrOrStderr(), p.ingest, p.collector(input.Cwd), input)
			return nil
		},
	}
}

func parseStopHookInput(r io.Reader) (stopHookInput, error) {
	var input stopHookInput
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return input, fmt.Errorf("reading hook input: %w", err)
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return input, fmt.Errorf("parsing hook input: %w", err)
	}
	if input.TranscriptPath == "" {
		return input, errors.New("hook input has no transcript_path")
	}
	return input, nil
}

// handleStopHook never fails the agent turn: problems are logged and
// reported on w.
func handleStopHook(ctx context.Context, w io.Writer, sender eventSender, src batchSource, input stopHookInput) {
	logging.Info(ctx, "stop",
		slog.String("hook", "stop"),
		slog.String("transcript_path", input.TranscriptPath))

	out, err := collectTranscript(ctx, sender, src, transcript.At(input.TranscriptPath), collectOptions{skipIfSaved: true})
	if err != nil {
		logging.Warn(ctx, "stop hook: collect failed", slog.String("error", err.Error()))
		_ = reportSendError(w, "contox collect", err)
		return
	}
	if out.result != nil {
		logging.Info(ctx, "stop hook: session saved",
			slog.String("event_id", out.result.EventID),
			slog.String("remote_session_id", out.result.SessionID))
	}
}
