// Package settings provides configuration loading for contox.
// This package is separate from cli so that the capture and transcript
// packages can read their knobs without importing the command layer.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/contox/cli/cmd/contox/cli/exclude"
	"github.com/contox/cli/cmd/contox/cli/jsonutil"
	"github.com/contox/cli/cmd/contox/cli/paths"
	"github.com/contox/cli/cmd/contox/cli/validation"
)

// Environment overrides.
const (
	APIURLEnvVar    = "CONTOX_API_URL"
	ProjectIDEnvVar = "CONTOX_PROJECT_ID"
)

// Failure policies for automatic flushes whose send fails.
const (
	FailurePolicyDrop    = "drop"
	FailurePolicyRequeue = "requeue"
)

// Defaults.
const (
	DefaultAPIURL              = "https://api.contox.dev"
	DefaultSource              = "contox-cli"
	DefaultIdleTimeout         = 5 * time.Minute
	DefaultIdleCheckInterval   = 30 * time.Second
	DefaultAutoFlushInterval   = 15 * time.Minute
	DefaultGitPollInterval     = 5 * time.Second
	DefaultSessionPollInterval = 30 * time.Second
	DefaultMaxEvents           = 50
	DefaultMaxPayloadBytes     = 512000
	DefaultControlAddr         = "127.0.0.1:7331"
)

// Duration is a time.Duration that reads and writes Go duration strings
// ("30s", "15m") in JSON.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(d.String())
	if err != nil {
		return nil, fmt.Errorf("marshaling duration: %w", err)
	}
	return b, nil
}

// UnmarshalJSON implements json.Unmarshaler. Bare numbers are read as seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs float64
		if numErr := json.Unmarshal(data, &secs); numErr != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Settings represents the .contox/settings.json configuration.
type Settings struct {
	// APIURL is the base URL of the remote project memory service.
	// Can be overridden by CONTOX_API_URL.
	APIURL string `json:"api_url" validate:"required,url"`

	// ProjectID identifies the remote project. Required for capture.
	// Can be overridden by CONTOX_PROJECT_ID.
	ProjectID string `json:"project_id,omitempty" validate:"omitempty,pathsafe"`

	// Source is reported in every ingest envelope.
	Source string `json:"source,omitempty"`

	// ExcludePatterns are appended to the built-in noise patterns.
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`

	// IncludeDiffs attaches small commit patches to commit records. Defaults to true.
	IncludeDiffs *bool `json:"include_diffs,omitempty"`

	// Redact scrubs secrets from diffs, requests and commands before sending.
	// Defaults to true.
	Redact *bool `json:"redact,omitempty"`

	// FailurePolicy decides what an automatic flush does with an event it
	// could not deliver: "drop" (default) or "requeue" into the local outbox.
	FailurePolicy string `json:"failure_policy,omitempty" validate:"omitempty,oneof=drop requeue"`

	IdleTimeout         Duration `json:"idle_timeout" validate:"gt=0"`
	IdleCheckInterval   Duration `json:"idle_check_interval" validate:"gt=0"`
	AutoFlushInterval   Duration `json:"auto_flush_interval" validate:"gt=0"`
	GitPollInterval     Duration `json:"git_poll_interval" validate:"gt=0"`
	SessionPollInterval Duration `json:"session_poll_interval" validate:"gt=0"`

	MaxEvents       int `json:"max_events" validate:"gte=1"`
	MaxPayloadBytes int `json:"max_payload_bytes" validate:"gte=1024"`

	// UpstreamRef overrides the ref compared against HEAD for push detection,
	// e.g. "refs/remotes/origin/main".
	UpstreamRef string `json:"upstream_ref,omitempty"`

	// ControlAddr is the listen address of the local control API.
	ControlAddr string `json:"control_addr" validate:"required,hostname_port"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Can be overridden by CONTOX_LOG_LEVEL.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`

	// Telemetry controls anonymous usage analytics.
	// nil = not asked yet, true = opted in, false = opted out
	Telemetry *bool `json:"telemetry,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("pathsafe", func(fl validator.FieldLevel) bool {
		return validation.ValidateProjectID(fl.Field().String()) == nil
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	return v
}

// Default returns settings populated with defaults only.
func Default() *Settings {
	s := &Settings{}
	applyDefaults(s)
	return s
}

// Load loads the settings from <root>/.contox/settings.json, then applies
// any overrides from settings.local.json and the environment.
// Returns default settings if neither file exists.
func Load(root string) (*Settings, error) {
	settings, err := loadFromFile(paths.ContoxFile(root, paths.SettingsFileName))
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	localData, err := os.ReadFile(paths.ContoxFile(root, paths.LocalSettingsFileName)) //nolint:gosec // path is built from constants
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
	} else if err := mergeJSON(settings, localData); err != nil {
		return nil, fmt.Errorf("merging local settings: %w", err)
	}

	applyEnv(settings)
	applyDefaults(settings)

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// loadFromFile loads settings from a specific file path.
// Returns default settings if the file doesn't exist.
func loadFromFile(filePath string) (*Settings, error) {
	settings := &Settings{}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	return settings, nil
}

// mergeJSON overlays the keys present in data onto settings.
// Empty strings in the overlay do not clear a base value.
func mergeJSON(settings *Settings, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}
	for k, v := range raw {
		if string(v) == `""` || string(v) == "null" {
			delete(raw, k)
		}
	}

	filtered, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-encoding overrides: %w", err)
	}
	if err := json.Unmarshal(filtered, settings); err != nil {
		return fmt.Errorf("applying overrides: %w", err)
	}
	return nil
}

func applyEnv(s *Settings) {
	if v := os.Getenv(APIURLEnvVar); v != "" {
		s.APIURL = v
	}
	if v := os.Getenv(ProjectIDEnvVar); v != "" {
		s.ProjectID = v
	}
}

func applyDefaults(s *Settings) {
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}
	if s.Source == "" {
		s.Source = DefaultSource
	}
	if s.FailurePolicy == "" {
		s.FailurePolicy = FailurePolicyDrop
	}
	defaultDuration(&s.IdleTimeout, DefaultIdleTimeout)
	defaultDuration(&s.IdleCheckInterval, DefaultIdleCheckInterval)
	defaultDuration(&s.AutoFlushInterval, DefaultAutoFlushInterval)
	defaultDuration(&s.GitPollInterval, DefaultGitPollInterval)
	defaultDuration(&s.SessionPollInterval, DefaultSessionPollInterval)
	if s.MaxEvents == 0 {
		s.MaxEvents = DefaultMaxEvents
	}
	if s.MaxPayloadBytes == 0 {
		s.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if s.ControlAddr == "" {
		s.ControlAddr = DefaultControlAddr
	}
}

func defaultDuration(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

// Validate checks field constraints.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Save writes settings to <root>/.contox/settings.json.
func (s *Settings) Save(root string) error {
	return jsonutil.WriteFileAtomic(paths.ContoxFile(root, paths.SettingsFileName), s, 0o644)
}

// SaveLocal writes settings to <root>/.contox/settings.local.json.
func (s *Settings) SaveLocal(root string) error {
	return jsonutil.WriteFileAtomic(filepath.Join(root, paths.ContoxDir, paths.LocalSettingsFileName), s, 0o600)
}

// DiffsEnabled reports whether small commit patches are attached.
func (s *Settings) DiffsEnabled() bool {
	return s.IncludeDiffs == nil || *s.IncludeDiffs
}

// RedactEnabled reports whether outgoing text is scrubbed for secrets.
func (s *Settings) RedactEnabled() bool {
	return s.Redact == nil || *s.Redact
}

// Requeue reports whether failed automatic flushes go to the outbox.
func (s *Settings) Requeue() bool {
	return s.FailurePolicy == FailurePolicyRequeue
}

// Patterns returns the effective exclusion list: built-in defaults followed
// by the configured extras.
func (s *Settings) Patterns() []string {
	out := exclude.Defaults()
	return append(out, s.ExcludePatterns...)
}
