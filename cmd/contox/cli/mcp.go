package cli

import (
	"fmt"
	"os"

	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/mcpserver"
	"github.com/contox/cli/cmd/contox/cli/paths"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the contox_save_session tool over MCP stdio",
		Long: `Runs an MCP server on stdin/stdout exposing contox_save_session, which
agents call to save the current session to project memory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := logging.WithComponent(cmd.Context(), "mcp")
			p, err := openProjectAt(ctx, paths.ProjectRoot(), "mcp")
			if err != nil {
				return err
			}
			defer p.close()

			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting working directory: %w", err)
			}

			mcpserver.Version = Version
			tool := mcpserver.NewSaveTool(p.ingest, p.collector(cwd), p.headSHA)
			if err := mcpserver.ServeStdio(mcpserver.New(tool)); err != nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}
