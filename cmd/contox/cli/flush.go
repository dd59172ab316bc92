package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/contox/cli/cmd/contox/cli/capture"
	"github.com/contox/cli/cmd/contox/cli/control"
	"github.com/contox/cli/cmd/contox/cli/metrics"
	"github.com/contox/cli/cmd/contox/cli/paths"
	"github.com/contox/cli/cmd/contox/cli/settings"
	"github.com/spf13/cobra"
)

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send buffered activity now",
		Long:  "Asks the running 'contox watch' to flush its buffer immediately and reports the result.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := controlClient()
			if err != nil {
				return err
			}
			resp, err := client.Flush(cmd.Context())
			if err != nil {
				return reportControlError(cmd.ErrOrStderr(), "flush", err)
			}
			printFlushReport(cmd.OutOrStdout(), resp.Report)
			return nil
		},
	}
}

// controlClient targets the control address from the project settings.
func controlClient() (*control.Client, error) {
	s, err := settings.Load(paths.ProjectRoot())
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return control.NewClient(s.ControlAddr), nil
}

// reportControlError explains control API failures and returns a SilentError.
func reportControlError(w io.Writer, action string, err error) error {
	var apiErr *control.APIError
	if !errors.As(err, &apiErr) {
		fmt.Fprintf(w, "%s failed: cannot reach the watcher (%v).\nIs 'contox watch' running?\n", action, err)
		return NewSilentError(err)
	}
	switch {
	case apiErr.Code == control.CodeMissingCredentials:
		fmt.Fprintf(w, "%s failed: %s\nRun `contox init` to configure credentials.\n", action, apiErr.Message)
	case apiErr.StatusCode == http.StatusConflict:
		fmt.Fprintf(w, "%s: %s\n", action, apiErr.Message)
	default:
		fmt.Fprintf(w, "%s failed: %s\n", action, apiErr.Message)
	}
	return NewSilentError(err)
}

func printFlushReport(w io.Writer, r capture.FlushReport) {
	switch r.Result {
	case metrics.ResultSent:
		fmt.Fprintln(w, styleOK.Render(fmt.Sprintf("Sent %d commit(s), %d file(s)", r.Commits, r.Files))+
			fmt.Sprintf(" (event %s, session %s)", r.EventID, r.SessionID))
	case metrics.ResultEmpty:
		fmt.Fprintln(w, "Nothing to send.")
	case metrics.ResultRequeued:
		fmt.Fprintln(w, styleWarn.Render("Send failed; event queued for retry: "+r.Error))
	case metrics.ResultSkipped:
		fmt.Fprintln(w, styleWarn.Render("Another send is in progress; try again shortly."))
	case metrics.ResultFailed:
		fmt.Fprintln(w, styleError.Render("Send failed: "+r.Error))
	}
}
