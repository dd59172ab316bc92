// Package telemetry records opt-in, anonymous command usage.
package telemetry

import (
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// OptOutEnvVar disables telemetry regardless of settings.
const OptOutEnvVar = "CONTOX_TELEMETRY_OPTOUT"

const eventCommandExecuted = "cli_command_executed"

var (
	// PostHogAPIKey is set at build time for production
	PostHogAPIKey = "phc_development_key"
	// PostHogEndpoint is set at build time for production
	PostHogEndpoint = "https://eu.i.posthog.com"
)

// Usage describes the context a command ran in. Only coarse facts are
// recorded, never paths or project ids.
type Usage struct {
	ProjectConfigured bool
	DiffsEnabled      bool
	FailurePolicy     string
}

// Client records command executions.
type Client interface {
	TrackCommand(cmd *cobra.Command, usage Usage)
	Close()
}

// NoOpClient is used when telemetry is disabled.
type NoOpClient struct{}

func (NoOpClient) TrackCommand(*cobra.Command, Usage) {}
func (NoOpClient) Close()                             {}

// silentLogger suppresses PostHog log output; delivery is best-effort.
type silentLogger struct{}

func (silentLogger) Logf(string, ...interface{})   {}
func (silentLogger) Debugf(string, ...interface{}) {}
func (silentLogger) Warnf(string, ...interface{})  {}
func (silentLogger) Errorf(string, ...interface{}) {}

// PostHogClient sends events to PostHog.
type PostHogClient struct {
	client    posthog.Client
	machineID string
}

// NewClient returns a PostHog client when enabled is set and the opt-out
// variable is not, and a NoOpClient otherwise.
//
//nolint:ireturn // returns NoOpClient or PostHogClient depending on settings
func NewClient(version string, enabled *bool) Client {
	if os.Getenv(OptOutEnvVar) != "" {
		return NoOpClient{}
	}
	if enabled == nil || !*enabled {
		return NoOpClient{}
	}

	id, err := machineid.ProtectedID("contox-cli")
	if err != nil {
		return NoOpClient{}
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 100 * time.Millisecond}).DialContext,
		TLSHandshakeTimeout:   100 * time.Millisecond,
		ResponseHeaderTimeout: 100 * time.Millisecond,
	}
	client, err := posthog.NewWithConfig(PostHogAPIKey, posthog.Config{
		Endpoint:           PostHogEndpoint,
		ShutdownTimeout:    100 * time.Millisecond,
		BatchUploadTimeout: 200 * time.Millisecond,
		Transport:          transport,
		Logger:             silentLogger{},
		DisableGeoIP:       posthog.Ptr(true),
		DefaultEventProperties: posthog.NewProperties().
			Set("cli_version", version).
			Set("os", runtime.GOOS).
			Set("arch", runtime.GOARCH),
	})
	if err != nil {
		return NoOpClient{}
	}
	return &PostHogClient{client: client, machineID: id}
}

// Properties builds the event properties for a command. Hidden commands
// yield nil.
func Properties(cmd *cobra.Command, usage Usage) posthog.Properties {
	if cmd == nil || cmd.Hidden {
		return nil
	}

	// flag names only, never values
	var flags []string
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		flags = append(flags, flag.Name)
	})

	props := posthog.NewProperties().
		Set("command", cmd.CommandPath()).
		Set("project_configured", usage.ProjectConfigured).
		Set("diffs_enabled", usage.DiffsEnabled)
	if usage.FailurePolicy != "" {
		props.Set("failure_policy", usage.FailurePolicy)
	}
	if len(flags) > 0 {
		props.Set("flags", strings.Join(flags, ","))
	}
	return props
}

// TrackCommand enqueues one command execution.
func (p *PostHogClient) TrackCommand(cmd *cobra.Command, usage Usage) {
	props := Properties(cmd, usage)
	if props == nil || p.client == nil {
		return
	}
	//nolint:errcheck // best-effort telemetry
	_ = p.client.Enqueue(posthog.Capture{
		DistinctId: p.machineID,
		Event:      eventCommandExecuted,
		Properties: props,
	})
}

// Close flushes pending events within the shutdown timeout.
func (p *PostHogClient) Close() {
	if p.client != nil {
		_ = p.client.Close()
	}
}
