package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/contox/cli/cmd/contox/cli/api"
	"github.com/contox/cli/cmd/contox/cli/credentials"
	"github.com/contox/cli/cmd/contox/cli/paths"
	"github.com/contox/cli/cmd/contox/cli/settings"
	"github.com/contox/cli/cmd/contox/cli/validation"
	"github.com/spf13/cobra"
)

type initOptions struct {
	projectID     string
	apiURL        string
	apiKey        string
	failurePolicy string
	local         bool
	claude        bool
	skipVerify    bool
}

func newInitCmd() *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Link this repository to a contox project",
		Long: `Writes .contox/settings.json for this repository and stores the API token
in ~/.config/contox/credentials.json.

Prompts for missing values when run in a terminal; pass flags to run
non-interactively.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := paths.RepoRoot()
			if err != nil {
				return errors.New("not a git repository: run 'contox init' inside a git repository")
			}
			return runInit(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.projectID, "project", "", "Project id")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "API base URL")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API token (stored in ~/.config/contox)")
	cmd.Flags().StringVar(&opts.failurePolicy, "failure-policy", "", "What automatic flushes do with undeliverable events: drop or requeue")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Write settings.local.json instead of settings.json")
	cmd.Flags().BoolVar(&opts.claude, "claude-code", true, "Install the Claude Code Stop hook and MCP server")
	cmd.Flags().BoolVar(&opts.skipVerify, "skip-verify", false, "Do not check the token against the API")

	return cmd
}

func runInit(ctx context.Context, w io.Writer, root string, opts initOptions) error {
	s, err := settings.Load(root)
	if err != nil {
		s = settings.Default()
	}
	if opts.projectID != "" {
		s.ProjectID = opts.projectID
	}
	if opts.apiURL != "" {
		s.APIURL = opts.apiURL
	}
	if opts.failurePolicy != "" {
		s.FailurePolicy = opts.failurePolicy
	}

	stored, _ := credentials.LoadToken() //nolint:errcheck // a missing token is prompted for below
	token := opts.apiKey
	if token == "" {
		token = stored
	}

	if (s.ProjectID == "" || token == "") && isInteractive() {
		if err := promptInit(s, &token); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
	}

	s.ProjectID = strings.TrimSpace(s.ProjectID)
	if s.ProjectID == "" {
		return errors.New("project id required: pass --project or run in a terminal")
	}
	if err := validation.ValidateProjectID(s.ProjectID); err != nil {
		return fmt.Errorf("invalid project id: %w", err)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if token != "" && token != stored {
		if err := credentials.SaveToken(token); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
	}

	save := s.Save
	if opts.local {
		save = s.SaveLocal
	}
	if err := save(root); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	fmt.Fprintf(w, "Linked to project %s.\n", s.ProjectID)

	if opts.claude {
		if changed, err := installClaudeStopHook(root); err != nil {
			fmt.Fprintf(w, "Warning: could not install Claude Code hook: %v\n", err)
		} else if changed {
			fmt.Fprintf(w, "Installed Claude Code Stop hook in %s.\n", claudeSettingsFile)
		}
		if changed, err := installMCPServer(root); err != nil {
			fmt.Fprintf(w, "Warning: could not register MCP server: %v\n", err)
		} else if changed {
			fmt.Fprintf(w, "Registered the contox MCP server in %s.\n", mcpConfigFile)
		}
	}

	if !opts.skipVerify && token != "" {
		verifyToken(ctx, w, s, token)
	}
	if token == "" {
		fmt.Fprintln(w, "No API token configured; set CONTOX_API_KEY or rerun with --api-key.")
	}
	return nil
}

func promptInit(s *settings.Settings, token *string) error {
	policy := s.FailurePolicy
	if policy == "" {
		policy = settings.FailurePolicyDrop
	}
	telemetry := s.Telemetry == nil || *s.Telemetry

	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project id").
				Value(&s.ProjectID).
				Validate(validation.ValidateProjectID),
			huh.NewInput().
				Title("API token").
				EchoMode(huh.EchoModePassword).
				Value(token),
			huh.NewSelect[string]().
				Title("When an automatic flush cannot be delivered").
				Options(
					huh.NewOption("Drop it", settings.FailurePolicyDrop),
					huh.NewOption("Queue it locally and retry", settings.FailurePolicyRequeue),
				).
				Value(&policy),
			huh.NewConfirm().
				Title("Share anonymous usage statistics?").
				Value(&telemetry),
		),
	)
	if err := form.Run(); err != nil {
		return err //nolint:wrapcheck // ErrUserAborted is checked by the caller
	}
	s.FailurePolicy = policy
	s.Telemetry = &telemetry
	return nil
}

func verifyToken(ctx context.Context, w io.Writer, s *settings.Settings, token string) {
	client := api.NewClient(s.APIURL, staticToken(token), nil)
	if _, err := client.ListSessions(ctx, s.ProjectID, 1); err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			fmt.Fprintf(w, "Warning: the API rejected the token (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			return
		}
		fmt.Fprintf(w, "Warning: could not reach %s: %v\n", s.APIURL, err)
		return
	}
	fmt.Fprintln(w, styleOK.Render("Token verified."))
}

type staticToken string

func (t staticToken) Token(context.Context) (string, error) { return string(t), nil }
