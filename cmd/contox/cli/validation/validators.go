// Package validation provides input validation functions for the contox CLI.
// This package has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, and hyphens only.
// Used to validate IDs that will be used in file paths or URL segments.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateProjectID validates a remote project ID. Project IDs end up in
// URL path segments, so they must not contain separators.
func ValidateProjectID(id string) error {
	if id == "" {
		return errors.New("project ID cannot be empty")
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid project ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateSessionID validates that a remote session ID doesn't contain path separators.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	return nil
}

// ValidateLogName validates a log file base name.
func ValidateLogName(name string) error {
	if name == "" {
		return errors.New("log name cannot be empty")
	}
	if !pathSafeRegex.MatchString(name) {
		return fmt.Errorf("invalid log name %q: must be alphanumeric with underscores/hyphens only", name)
	}
	return nil
}

// ValidateTranscriptID validates an agent transcript identifier (the JSONL file stem).
// Claude Code uses UUIDs here.
func ValidateTranscriptID(id string) error {
	if id == "" {
		return errors.New("transcript ID cannot be empty")
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid transcript ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}
