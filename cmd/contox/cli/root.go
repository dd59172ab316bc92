package cli

import (
	"fmt"
	"runtime"

	"github.com/contox/cli/cmd/contox/cli/paths"
	"github.com/contox/cli/cmd/contox/cli/settings"
	"github.com/contox/cli/cmd/contox/cli/telemetry"
	"github.com/contox/cli/cmd/contox/cli/versioncheck"
	"github.com/spf13/cobra"
)

const gettingStarted = `

Getting Started:
  Run 'contox init' inside a git repository to link it to a project, then
  'contox watch' to start capturing activity.

`

const accessibilityHelp = `
Environment Variables:
  ACCESSIBLE          Set to any value to use plain text prompts instead of
                      interactive TUI elements.
  CONTOX_API_KEY      Bearer token; overrides ~/.config/contox/credentials.json.
  CONTOX_HMAC_SECRET  Project signing secret; skips remote provisioning.
  CONTOX_LOG_LEVEL    debug, info, warn or error.
`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contox",
		Short: "contox activity capture",
		Long:  "Captures coding activity in a git repository and ships it to contox project memory." + gettingStarted + accessibilityHelp,
		// main.go prints errors
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			s, err := settings.Load(paths.ProjectRoot())
			if err != nil {
				s = settings.Default()
			}

			client := telemetry.NewClient(Version, s.Telemetry)
			defer client.Close()
			client.TrackCommand(cmd, telemetry.Usage{
				ProjectConfigured: s.ProjectID != "",
				DiffsEnabled:      s.DiffsEnabled(),
				FailurePolicy:     s.FailurePolicy,
			})

			versioncheck.CheckAndNotify(cmd, Version)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newFlushCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newHooksCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "contox %s (%s)\n", Version, Commit)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
