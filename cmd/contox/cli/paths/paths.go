package paths

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Directory constants
const (
	ContoxDir = ".contox"
	LogsDir   = ".contox/logs"
)

// File names inside ContoxDir
const (
	SettingsFileName      = "settings.json"
	LocalSettingsFileName = "settings.local.json"
	CursorFileName        = "transcript-cursor.json"
	OutboxFileName        = "outbox.db"
)

// GlobalConfigDirName is the per-user config directory, relative to $HOME.
const GlobalConfigDirName = ".config/contox"

// CredentialsFileName holds the bearer token, inside GlobalConfigDirName.
const CredentialsFileName = "credentials.json"

// repoRootCache caches the repository root to avoid repeated git commands.
// The cache is keyed by the current working directory to handle directory changes.
var (
	repoRootMu       sync.RWMutex
	repoRootCache    string
	repoRootCacheDir string
)

// RepoRoot returns the git repository root directory.
// Uses 'git rev-parse --show-toplevel' which works from any subdirectory.
// The result is cached per working directory.
func RepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	repoRootMu.RLock()
	if repoRootCache != "" && repoRootCacheDir == cwd {
		cached := repoRootCache
		repoRootMu.RUnlock()
		return cached, nil
	}
	repoRootMu.RUnlock()

	cmd := exec.CommandContext(context.Background(), "git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get git repository root: %w", err)
	}

	root := strings.TrimSpace(string(output))

	repoRootMu.Lock()
	repoRootCache = root
	repoRootCacheDir = cwd
	repoRootMu.Unlock()

	return root, nil
}

// ClearRepoRootCache clears the cached repository root.
// This is primarily useful for testing when changing directories.
func ClearRepoRootCache() {
	repoRootMu.Lock()
	repoRootCache = ""
	repoRootCacheDir = ""
	repoRootMu.Unlock()
}

// ProjectRoot returns the repository root, or the current directory when
// not inside a git repository. Transcript collection works outside git.
func ProjectRoot() string {
	if root, err := RepoRoot(); err == nil {
		return root
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// AbsPath returns the absolute path for a path relative to the project root.
// If the path is already absolute, it is returned as-is.
func AbsPath(relPath string) string {
	if filepath.IsAbs(relPath) {
		return relPath
	}
	return filepath.Join(ProjectRoot(), relPath)
}

// ContoxFile returns the absolute path of a file inside <root>/.contox.
func ContoxFile(root, name string) string {
	return filepath.Join(root, ContoxDir, name)
}

// GlobalConfigDir returns ~/.config/contox.
func GlobalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, GlobalConfigDirName), nil
}

// ToRelative converts an absolute path inside root into a slash-separated
// relative path. Paths outside root are returned unchanged.
func ToRelative(root, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizePathForClaude converts a path to Claude Code's project directory
// name format, which replaces any non-alphanumeric character with a dash.
func SanitizePathForClaude(path string) string {
	return nonAlphanumericRegex.ReplaceAllString(path, "-")
}
