package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{ err error }

func (f failingToken) Token(context.Context) (string, error) { return "", f.err }

func TestListSessions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/sessions", r.URL.Path)
		assert.Equal(t, "proj", r.URL.Query().Get("projectId"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"sessions":[{"id":"s2","status":"closed"},{"id":"s1","status":"active","updatedAt":"2026-01-01T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", staticToken("tok"), srv.Client())
	sessions, err := c.ListSessions(context.Background(), "proj", 5)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.False(t, sessions[0].Active())

	active, err := c.ActiveSession(context.Background(), "proj", 5)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "s1", active.ID)
}

func TestActiveSession_None(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sessions":[{"id":"s1","status":"closed"}]}`))
	}))
	defer srv.Close()

	active, err := NewClient(srv.URL, staticToken("tok"), nil).ActiveSession(context.Background(), "proj", 5)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCreateAndCloseSession(t *testing.T) {
	t.Parallel()

	var closed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sessions":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]string{"projectId": "proj", "source": "contox-cli"}, body)
			_, _ = w.Write([]byte(`{"sessionId":"new-1"}`))
		case "/api/v1/sessions/old-1/close":
			closed = "old-1"
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"), srv.Client())
	id, err := c.CreateSession(context.Background(), "proj", "contox-cli")
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)

	require.NoError(t, c.CloseSession(context.Background(), "old-1"))
	assert.Equal(t, "old-1", closed)
}

func TestFetchHMACSecret(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj/hmac-secret", r.URL.Path)
		_, _ = w.Write([]byte(`{"hmacSecret":"s3cret"}`))
	}))
	defer srv.Close()

	secret, err := NewClient(srv.URL, staticToken("tok"), srv.Client()).FetchHMACSecret(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)
}

func TestErrorResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/sessions" && r.Method == http.MethodPost {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"project archived"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken("tok"), srv.Client())

	_, err := c.CreateSession(context.Background(), "proj", "cli")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "project archived", apiErr.Message)

	_, err = c.ListSessions(context.Background(), "proj", 5)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "502 Bad Gateway", apiErr.Message)
	assert.Equal(t, "/api/v1/sessions", apiErr.Path)
}

func TestTokenErrorMakesNoRequest(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	sentinel := errors.New("no token")
	_, err := NewClient(srv.URL, failingToken{sentinel}, srv.Client()).ListSessions(context.Background(), "p", 5)
	require.ErrorIs(t, err, sentinel)
	assert.False(t, called)
}
