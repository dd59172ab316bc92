package versioncheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsOutdated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current, latest string
		want            bool
	}{
		{"1.0.0", "1.0.1", true},
		{"1.0.0", "2.0.0", true},
		{"1.0.1", "1.0.0", false},
		{"1.0.0", "1.0.0", false},
		{"v1.0.0", "1.0.1", true},
		{"1.0.0-rc1", "1.0.0", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isOutdated(tt.current, tt.latest), "%s vs %s", tt.current, tt.latest)
	}
}

func TestParseRelease(t *testing.T) {
	t.Parallel()

	v, err := parseRelease([]byte(`{"tag_name":"v1.4.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", v)

	_, err = parseRelease([]byte(`{"tag_name":"v2.0.0-rc1","prerelease":true}`))
	require.Error(t, err)

	_, err = parseRelease([]byte(`{"tag_name":""}`))
	require.Error(t, err)

	_, err = parseRelease([]byte(`not json`))
	require.Error(t, err)
}

func newTestChecker(t *testing.T, handler http.HandlerFunc, now time.Time) (*Checker, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return &Checker{
		ReleaseURL: srv.URL,
		CacheDir:   t.TempDir(),
		HTTPClient: srv.Client(),
		Now:        func() time.Time { return now },
	}, &hits
}

func TestCheck_NewerRelease(t *testing.T) {
	t.Parallel()

	c, hits := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v1.2.0"}`))
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	latest, outdated := c.Check(context.Background(), "1.1.0")
	assert.True(t, outdated)
	assert.Equal(t, "v1.2.0", latest)
	assert.Equal(t, int32(1), hits.Load())

	// cached for a day
	_, outdated = c.Check(context.Background(), "1.1.0")
	assert.False(t, outdated)
	assert.Equal(t, int32(1), hits.Load())

	cache, err := c.loadCache()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", cache.LatestVersion)
}

func TestCheck_RechecksAfterInterval(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, hits := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v1.0.0"}`))
	}, now)

	_, outdated := c.Check(context.Background(), "1.0.0")
	assert.False(t, outdated)

	c.Now = func() time.Time { return now.Add(checkInterval + time.Minute) }
	c.Check(context.Background(), "1.0.0")
	assert.Equal(t, int32(2), hits.Load())
}

func TestCheck_FailureStillUpdatesCache(t *testing.T) {
	t.Parallel()

	c, hits := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	_, outdated := c.Check(context.Background(), "1.0.0")
	assert.False(t, outdated)
	c.Check(context.Background(), "1.0.0")
	assert.Equal(t, int32(1), hits.Load())

	_, err := os.Stat(filepath.Join(c.CacheDir, cacheFileName))
	require.NoError(t, err)
}

func TestCheck_CorruptCacheIsIgnored(t *testing.T) {
	t.Parallel()

	c, hits := newTestChecker(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v1.0.1"}`))
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, os.WriteFile(filepath.Join(c.CacheDir, cacheFileName), []byte("{"), 0o600))

	_, outdated := c.Check(context.Background(), "1.0.0")
	assert.True(t, outdated)
	assert.Equal(t, int32(1), hits.Load())
}
