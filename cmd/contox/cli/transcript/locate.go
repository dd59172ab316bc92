package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/contox/cli/cmd/contox/cli/paths"
)

// ErrNoTranscript is returned when no transcript exists for a directory.
var ErrNoTranscript = errors.New("no transcript found")

// ProjectsDirEnvVar overrides the Claude Code projects directory.
const ProjectsDirEnvVar = "CONTOX_CLAUDE_PROJECTS_DIR"

// ProjectsDir returns the directory Claude Code stores transcripts under.
func ProjectsDir() (string, error) {
	if dir := os.Getenv(ProjectsDirEnvVar); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// Located is a transcript file and its identity.
type Located struct {
	Path      string
	SessionID string
}

// Locate returns the most recently modified transcript for the working
// directory cwd.
func Locate(cwd string) (Located, error) {
	base, err := ProjectsDir()
	if err != nil {
		return Located{}, err
	}
	dir := filepath.Join(base, paths.SanitizePathForClaude(cwd))
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return Located{}, fmt.Errorf("listing transcripts: %w", err)
	}

	var newest string
	var newestMod int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = m, mod
		}
	}
	if newest == "" {
		return Located{}, fmt.Errorf("%w in %s", ErrNoTranscript, dir)
	}
	return At(newest), nil
}

// At describes the transcript at path. Its identity is the file stem.
func At(path string) Located {
	return Located{Path: path, SessionID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
}
