// Package versioncheck tells the user, at most once a day, that a newer
// release of the CLI exists.
package versioncheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/contox/cli/cmd/contox/cli/jsonutil"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/paths"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
)

// Checker performs the release lookup. The zero value is not usable; see New.
type Checker struct {
	ReleaseURL string
	CacheDir   string
	HTTPClient *http.Client
	Now        func() time.Time
}

// New returns a Checker caching under ~/.config/contox.
func New() (*Checker, error) {
	dir, err := paths.GlobalConfigDir()
	if err != nil {
		return nil, err
	}
	return &Checker{
		ReleaseURL: DefaultReleaseURL,
		CacheDir:   dir,
		HTTPClient: &http.Client{Timeout: httpTimeout},
		Now:        time.Now,
	}, nil
}

// CheckAndNotify prints an upgrade hint when a newer release exists. It is
// silent on every failure so it never interrupts the command being run.
func CheckAndNotify(cmd *cobra.Command, currentVersion string) {
	if cmd.Hidden || currentVersion == "dev" || currentVersion == "" {
		return
	}
	c, err := New()
	if err != nil {
		return
	}
	latest, ok := c.Check(cmd.Context(), currentVersion)
	if ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nA newer version of contox is available: %s (current: %s)\nRun '%s' to update.\n",
			latest, currentVersion, updateCommand())
	}
}

// Check returns the latest release and true when currentVersion is older.
// The endpoint is queried at most once per day; the cache timestamp is
// advanced even when the query fails.
func (c *Checker) Check(ctx context.Context, currentVersion string) (string, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	cache, err := c.loadCache()
	if err != nil {
		cache = &Cache{}
	}
	if c.Now().Sub(cache.LastCheckTime) < checkInterval {
		return "", false
	}

	latest, fetchErr := c.fetchLatest(ctx)

	cache.LastCheckTime = c.Now()
	if fetchErr == nil {
		cache.LatestVersion = latest
	}
	if err := jsonutil.WriteFileAtomic(c.cachePath(), cache, 0o600); err != nil {
		logging.Debug(ctx, "version check: failed to save cache", "error", err.Error())
	}

	if fetchErr != nil {
		logging.Debug(ctx, "version check: fetch failed", "error", fetchErr.Error())
		return "", false
	}
	return latest, isOutdated(currentVersion, latest)
}

func (c *Checker) cachePath() string {
	return filepath.Join(c.CacheDir, cacheFileName)
}

func (c *Checker) loadCache() (*Cache, error) {
	data, err := os.ReadFile(c.cachePath())
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	var cache Cache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing cache: %w", err)
	}
	return &cache, nil
}

func (c *Checker) fetchLatest(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ReleaseURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "contox-cli")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return parseRelease(body)
}

func parseRelease(body []byte) (string, error) {
	var release Release
	if err := json.Unmarshal(body, &release); err != nil {
		return "", fmt.Errorf("parsing JSON: %w", err)
	}
	if release.Prerelease || release.Draft {
		return "", errors.New("latest release is not stable")
	}
	if release.TagName == "" {
		return "", errors.New("empty tag name")
	}
	return release.TagName, nil
}

// isOutdated reports whether current < latest under semver ordering.
func isOutdated(current, latest string) bool {
	if !strings.HasPrefix(current, "v") {
		current = "v" + current
	}
	if !strings.HasPrefix(latest, "v") {
		latest = "v" + latest
	}
	return semver.Compare(current, latest) < 0
}

func updateCommand() string {
	execPath, err := os.Executable()
	if err != nil {
		return installScript
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}
	if strings.Contains(execPath, "/Cellar/") || strings.Contains(execPath, "/homebrew/") {
		return brewUpgrade
	}
	return installScript
}
