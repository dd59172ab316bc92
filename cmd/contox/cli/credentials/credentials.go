// Package credentials caches the bearer token and the per-project HMAC
// signing secrets. Both live in memguard enclaves and are only decrypted
// for the duration of a request.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sync/singleflight"

	"github.com/contox/cli/cmd/contox/cli/jsonutil"
	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/paths"
)

// Environment overrides.
const (
	TokenEnvVar  = "CONTOX_API_KEY"
	SecretEnvVar = "CONTOX_HMAC_SECRET"
)

var (
	// ErrMissingToken means no bearer token is configured.
	ErrMissingToken = errors.New("no API token configured")
	// ErrMissingSecret means the project's HMAC secret is not available.
	ErrMissingSecret = errors.New("no HMAC signing secret for project")
)

// SecretFetcher provisions a project's HMAC secret from the remote service.
type SecretFetcher interface {
	FetchHMACSecret(ctx context.Context, projectID string) (string, error)
}

// Options configures a Store.
type Options struct {
	// Fetcher provisions secrets that are not cached or set by env.
	Fetcher SecretFetcher
	// TokenLoader overrides LoadToken.
	TokenLoader func() (string, error)
	// OnMissingSecret is called at most once per Store when a secret cannot be obtained.
	OnMissingSecret func(projectID string, err error)
}

// Store is the process-wide credential cache.
type Store struct {
	mu      sync.RWMutex
	token   *memguard.Enclave
	secrets map[string]*memguard.Enclave

	fetcher     SecretFetcher
	tokenLoader func() (string, error)
	onMissing   func(projectID string, err error)

	group    singleflight.Group
	warnOnce sync.Once
}

// New returns an empty Store.
func New(opts Options) *Store {
	loader := opts.TokenLoader
	if loader == nil {
		loader = LoadToken
	}
	return &Store{
		secrets:     make(map[string]*memguard.Enclave),
		fetcher:     opts.Fetcher,
		tokenLoader: loader,
		onMissing:   opts.OnMissingSecret,
	}
}

// SetFetcher wires the secret provisioning client after construction; the
// API client itself needs the Store for its bearer token.
func (s *Store) SetFetcher(f SecretFetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetcher = f
}

// Token returns the bearer token, loading and caching it on first use.
func (s *Store) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	enc := s.token
	s.mu.RUnlock()

	if enc == nil {
		tok, err := s.tokenLoader()
		if err != nil {
			return "", err
		}
		if tok == "" {
			return "", ErrMissingToken
		}
		enc = memguard.NewEnclave([]byte(tok))
		s.mu.Lock()
		s.token = enc
		s.mu.Unlock()
	}

	buf, err := enc.Open()
	if err != nil {
		return "", fmt.Errorf("opening token enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// SetSecret caches a project's secret.
func (s *Store) SetSecret(projectID, secret string) {
	if secret == "" {
		return
	}
	enc := memguard.NewEnclave([]byte(secret))
	s.mu.Lock()
	s.secrets[projectID] = enc
	s.mu.Unlock()
}

// WithSecret calls fn with the project's secret decrypted into locked memory.
// The slice must not be retained after fn returns.
func (s *Store) WithSecret(ctx context.Context, projectID string, fn func(secret []byte) error) error {
	enc, err := s.secret(ctx, projectID)
	if err != nil {
		return err
	}
	buf, err := enc.Open()
	if err != nil {
		return fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

func (s *Store) secret(ctx context.Context, projectID string) (*memguard.Enclave, error) {
	s.mu.RLock()
	enc, ok := s.secrets[projectID]
	fetcher := s.fetcher
	s.mu.RUnlock()
	if ok {
		return enc, nil
	}

	if v := os.Getenv(SecretEnvVar); v != "" {
		s.SetSecret(projectID, v)
		return s.cached(projectID)
	}

	if fetcher == nil {
		return nil, s.missing(ctx, projectID, ErrMissingSecret)
	}

	_, err, _ := s.group.Do(projectID, func() (any, error) {
		if _, ok := s.lookup(projectID); ok {
			return nil, nil
		}
		secret, err := fetcher.FetchHMACSecret(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMissingSecret, err)
		}
		if secret == "" {
			return nil, ErrMissingSecret
		}
		s.SetSecret(projectID, secret)
		return nil, nil
	})
	if err != nil {
		return nil, s.missing(ctx, projectID, err)
	}
	return s.cached(projectID)
}

func (s *Store) lookup(projectID string) (*memguard.Enclave, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enc, ok := s.secrets[projectID]
	return enc, ok
}

func (s *Store) cached(projectID string) (*memguard.Enclave, error) {
	if enc, ok := s.lookup(projectID); ok {
		return enc, nil
	}
	return nil, ErrMissingSecret
}

func (s *Store) missing(ctx context.Context, projectID string, err error) error {
	s.warnOnce.Do(func() {
		logging.Warn(logging.WithComponent(ctx, "credentials"), "HMAC secret unavailable; run `contox init`",
			slog.String("project_id", projectID), slog.String("error", err.Error()))
		if s.onMissing != nil {
			s.onMissing(projectID, err)
		}
	})
	return err
}

// Purge wipes all cached credentials.
func (s *Store) Purge() {
	s.mu.Lock()
	s.token = nil
	s.secrets = make(map[string]*memguard.Enclave)
	s.mu.Unlock()
}

// tokenFile is the on-disk shape of ~/.config/contox/credentials.json.
type tokenFile struct {
	Token string `json:"token"`
}

// LoadToken returns CONTOX_API_KEY, or the token stored in the global
// credentials file. Returns ErrMissingToken when neither is set.
func LoadToken() (string, error) {
	if v := strings.TrimSpace(os.Getenv(TokenEnvVar)); v != "" {
		return v, nil
	}
	dir, err := paths.GlobalConfigDir()
	if err != nil {
		return "", ErrMissingToken
	}
	return loadTokenFile(filepath.Join(dir, paths.CredentialsFileName))
}

func loadTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from constants
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMissingToken
		}
		return "", fmt.Errorf("reading credentials file: %w", err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("parsing credentials file: %w", err)
	}
	if strings.TrimSpace(tf.Token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(tf.Token), nil
}

// SaveToken writes the token to ~/.config/contox/credentials.json with 0600.
func SaveToken(token string) error {
	dir, err := paths.GlobalConfigDir()
	if err != nil {
		return err
	}
	return jsonutil.WriteFileAtomic(filepath.Join(dir, paths.CredentialsFileName), tokenFile{Token: token}, 0o600)
}
