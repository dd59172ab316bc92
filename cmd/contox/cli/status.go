package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/contox/cli/cmd/contox/cli/control"
	"github.com/contox/cli/cmd/contox/cli/paths"
	"github.com/contox/cli/cmd/contox/cli/settings"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show capture status for this repository",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := settings.Load(paths.ProjectRoot())
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}
			resp, err := control.NewClient(s.ControlAddr).Status(cmd.Context())
			if err != nil {
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(s, nil, time.Now()))
				return nil //nolint:nilerr // a stopped watcher is a status, not a failure
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(s, &resp, time.Now()))
			return nil
		},
	}
}

// renderStatus formats settings and, when the watcher is running, its live
// buffer state.
func renderStatus(s *settings.Settings, resp *control.StatusResponse, now time.Time) string {
	var b strings.Builder

	project := s.ProjectID
	if project == "" {
		project = styleWarn.Render("not linked (run `contox init`)")
	}
	lines := []string{
		styleTitle.Render("contox"),
		row("Project", project),
		row("API", s.APIURL),
		row("Failure policy", orDefault(s.FailurePolicy, settings.FailurePolicyDrop)),
	}

	if resp == nil {
		lines = append(lines, row("Watcher", styleError.Render("not running")))
		b.WriteString(styleBox.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
		return b.String()
	}

	c := resp.Capture
	lines = append(lines,
		row("Watcher", styleOK.Render("running")+" "+c.WatcherID),
		row("Session", orDefault(c.SessionID, "none")+" ("+orDefault(resp.SessionState, "none")+")"),
		row("Git", orDefault(resp.GitState, "unknown")),
		row("Buffered events", strconv.Itoa(c.EventCount)),
		row("Commits", strconv.Itoa(c.Commits)),
		row("Files modified", strconv.Itoa(c.FilesModified)),
		row("Open files", strconv.Itoa(c.ActiveEditorFiles)),
		row("Payload", fmt.Sprintf("%d bytes", c.PayloadBytes)),
	)
	if !c.LastActivity.IsZero() {
		lines = append(lines, row("Last activity", ago(now, c.LastActivity)))
	}
	if c.SendInFlight {
		lines = append(lines, row("Send", styleWarn.Render("in progress")))
	}
	if f := c.LastFlush; f != nil {
		last := fmt.Sprintf("%s via %s, %s", f.Result, f.Trigger, ago(now, f.At))
		if f.Error != "" {
			last += ": " + styleError.Render(f.Error)
		}
		lines = append(lines, row("Last flush", last))
	}

	b.WriteString(styleBox.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")
	return b.String()
}

func ago(now, t time.Time) string {
	d := now.Sub(t).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
