package telemetry

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestNewClient_OptOut(t *testing.T) {
	t.Setenv(OptOutEnvVar, "1")

	enabled := true
	assert.IsType(t, NoOpClient{}, NewClient("1.0.0", &enabled))
}

func TestNewClient_DisabledByDefault(t *testing.T) {
	t.Setenv(OptOutEnvVar, "")

	assert.IsType(t, NoOpClient{}, NewClient("1.0.0", nil))

	disabled := false
	assert.IsType(t, NoOpClient{}, NewClient("1.0.0", &disabled))
}

func TestNoOpClient(_ *testing.T) {
	c := NoOpClient{}
	c.TrackCommand(nil, Usage{})
	c.TrackCommand(&cobra.Command{Use: "flush"}, Usage{ProjectConfigured: true})
	c.Close()
}

func TestProperties(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "contox"}
	flush := &cobra.Command{Use: "flush", Run: func(*cobra.Command, []string) {}}
	flush.Flags().Bool("json", false, "")
	flush.Flags().String("project", "", "")
	root.AddCommand(flush)
	_ = flush.Flags().Set("json", "true")

	props := Properties(flush, Usage{ProjectConfigured: true, FailurePolicy: "requeue"})
	assert.Equal(t, "contox flush", props["command"])
	assert.Equal(t, true, props["project_configured"])
	assert.Equal(t, "requeue", props["failure_policy"])
	assert.Equal(t, "json", props["flags"])
}

func TestProperties_HiddenCommand(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Properties(&cobra.Command{Use: "internal", Hidden: true}, Usage{}))
	assert.Nil(t, Properties(nil, Usage{}))
}

func TestPostHogClient_SkipsHidden(_ *testing.T) {
	c := &PostHogClient{machineID: "test-id"}
	c.TrackCommand(&cobra.Command{Use: "hidden", Hidden: true}, Usage{})
	c.Close()
}
