package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the remote capture session",
	}
	cmd.AddCommand(newSessionEndCmd())
	return cmd
}

func newSessionEndCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "end",
		Short: "Flush, close the current session and start a new one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force && isInteractive() {
				var confirmed bool
				form := NewAccessibleForm(
					huh.NewGroup(
						huh.NewConfirm().
							Title("End the current session?").
							Description("Buffered activity is sent first, then a new session is started.").
							Value(&confirmed),
					),
				)
				if err := form.Run(); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return fmt.Errorf("failed to get confirmation: %w", err)
				}
				if !confirmed {
					return nil
				}
			}

			client, err := controlClient()
			if err != nil {
				return err
			}
			resp, err := client.EndSession(cmd.Context())
			if err != nil {
				return reportControlError(cmd.ErrOrStderr(), "session end", err)
			}
			printFlushReport(cmd.OutOrStdout(), resp.Report)
			fmt.Fprintln(cmd.OutOrStdout(), "Session ended.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}
