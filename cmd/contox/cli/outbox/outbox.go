// Package outbox persists capture events whose automatic flush failed so
// they can be re-signed and sent after the next successful flush.
package outbox

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/contox/cli/cmd/contox/cli/logging"
	"github.com/contox/cli/cmd/contox/cli/metrics"
	"github.com/contox/cli/cmd/contox/cli/paths"
)

// Bounds on what the outbox keeps.
const (
	MaxAttempts = 5
	MaxAge      = 24 * time.Hour
	MaxEntries  = 100
)

const schemaVersion = 1

// Entry is one queued event.
type Entry struct {
	ID        string
	EventType string
	Payload   []byte
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// Store is a sqlite-backed outbox.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// Open opens the outbox of the project at root.
func Open(root string) (*Store, error) {
	return OpenPath(paths.ContoxFile(root, paths.OutboxFileName))
}

// OpenPath opens or creates the outbox database at path.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create outbox directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0o600)

	return &Store{
		db:      db,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS outbox (
		  id          TEXT PRIMARY KEY,
		  event_type  TEXT NOT NULL,
		  payload     BLOB NOT NULL,
		  created_at  INTEGER NOT NULL,
		  attempts    INTEGER NOT NULL DEFAULT 0,
		  last_error  TEXT
		);`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// Enqueue stores an event. The oldest entries are dropped beyond MaxEntries.
func (s *Store) Enqueue(ctx context.Context, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		s.newID(), eventType, payload, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE id NOT IN (SELECT id FROM outbox ORDER BY id DESC LIMIT ?)`, MaxEntries)
	if err != nil {
		return fmt.Errorf("failed to trim outbox: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Warn(ctx, "outbox full, oldest events dropped", slog.Int64("dropped", n))
	}
	s.updateDepth(ctx)
	return nil
}

// Drain sends queued events oldest first. Delivered entries are removed;
// a failed entry has its attempt count bumped and stops the drain. Entries
// past MaxAge or MaxAttempts are discarded.
func (s *Store) Drain(ctx context.Context, send func(ctx context.Context, eventType string, payload []byte) error) (int, error) {
	defer s.updateDepth(ctx)

	if err := s.expire(ctx); err != nil {
		return 0, err
	}
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if sendErr := send(ctx, e.EventType, e.Payload); sendErr != nil {
			if err := s.markFailed(ctx, e, sendErr); err != nil {
				return sent, err
			}
			return sent, fmt.Errorf("delivering %s: %w", e.ID, sendErr)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, e.ID); err != nil {
			return sent, fmt.Errorf("failed to remove delivered event: %w", err)
		}
		sent++
	}
	return sent, nil
}

// List returns queued entries oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, payload, created_at, attempts, COALESCE(last_error, '') FROM outbox ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &created, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox: %w", err)
	}
	return out, nil
}

// Depth returns how many events are queued.
func (s *Store) Depth(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

func (s *Store) expire(ctx context.Context) error {
	cutoff := s.now().Add(-MaxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE created_at < ? OR attempts >= ?`, cutoff, MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to expire outbox entries: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Info(ctx, "outbox entries expired", slog.Int64("count", n))
	}
	return nil
}

func (s *Store) markFailed(ctx context.Context, e Entry, sendErr error) error {
	if e.Attempts+1 >= MaxAttempts {
		_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, e.ID)
		if err != nil {
			return fmt.Errorf("failed to discard outbox entry: %w", err)
		}
		logging.Warn(ctx, "outbox entry discarded after repeated failures",
			slog.String("id", e.ID), slog.String("error", sendErr.Error()))
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, sendErr.Error(), e.ID)
	if err != nil {
		return fmt.Errorf("failed to record outbox failure: %w", err)
	}
	return nil
}

func (s *Store) updateDepth(ctx context.Context) {
	if n, err := s.Depth(ctx); err == nil {
		metrics.SetOutboxDepth(n)
	}
}
