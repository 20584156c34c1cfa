// Package store provides durable, transactional storage for sessions and
// their full message graphs on SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/logging"
)

const (
	// retryMaxAttempts bounds busy retries: the initial attempt plus four
	// backed-off retries.
	retryMaxAttempts = 5
	// retryInitialInterval is the first backoff delay; it doubles per
	// attempt.
	retryInitialInterval = 10 * time.Millisecond
)

// ErrBusy marks a contention failure. Store mocks can return it to exercise
// the retry path; real SQLITE_BUSY/SQLITE_LOCKED errors are recognized
// directly.
var ErrBusy = errors.New("store busy")

// Store is the session repository.
type Store struct {
	db  *sql.DB
	bus *event.Bus
}

// Page is one slice of a cursor-paginated result set. NextCursor is nil
// when the set is exhausted.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor *int64 `json:"nextCursor"`
}

// Open creates or opens the database at path and ensures the schema. The
// bus may be nil; lifecycle events are then not published.
func Open(path string, bus *event.Bus) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Pragmas go through the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, bus: bus}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logging.Debug().Str("path", path).Msg("store opened")
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL DEFAULT '',
		provider         TEXT NOT NULL,
		model            TEXT NOT NULL,
		agent_id         TEXT NOT NULL DEFAULT 'default',
		enabled_rule_ids TEXT NOT NULL DEFAULT '[]',
		next_todo_id     INTEGER NOT NULL DEFAULT 1,
		created          INTEGER NOT NULL,
		updated          INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role          TEXT NOT NULL,
		timestamp     INTEGER NOT NULL,
		ordering      INTEGER NOT NULL,
		finish_reason TEXT,
		status        TEXT NOT NULL DEFAULT 'completed',
		metadata      TEXT,
		UNIQUE(session_id, ordering)
	);

	CREATE TABLE IF NOT EXISTS parts (
		id         TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		ordering   INTEGER NOT NULL,
		type       TEXT NOT NULL,
		content    TEXT NOT NULL,
		UNIQUE(message_id, ordering)
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id            TEXT PRIMARY KEY,
		message_id    TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		path          TEXT NOT NULL,
		relative_path TEXT NOT NULL,
		size          INTEGER
	);

	CREATE TABLE IF NOT EXISTS usage (
		message_id        TEXT PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS todos (
		id          INTEGER NOT NULL,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		content     TEXT NOT NULL,
		active_form TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'pending',
		ordering    INTEGER NOT NULL,
		PRIMARY KEY(session_id, id)
	);

	CREATE TABLE IF NOT EXISTS todo_snapshots (
		id          TEXT PRIMARY KEY,
		message_id  TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		todo_id     INTEGER NOT NULL,
		content     TEXT NOT NULL,
		active_form TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		ordering    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, ordering);
	CREATE INDEX IF NOT EXISTS idx_messages_role_ts ON messages(role, timestamp);
	CREATE INDEX IF NOT EXISTS idx_parts_message ON parts(message_id, ordering);
	CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_message ON todo_snapshots(message_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// withTx runs fn inside one transaction wrapped in the busy-retry policy.
// A retried attempt re-runs the whole body, so fn must be re-executable.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// retryOnBusy retries op with exponential backoff while it fails with a
// contention error, up to retryMaxAttempts attempts total. Every other
// error class propagates immediately.
func retryOnBusy(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2.0
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsBusy(err) {
			return backoff.Permanent(err)
		}
		logging.Warn().Int("attempt", attempt).Msg("store busy, retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts-1), ctx))
}

// IsBusy reports whether err is a transient contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// lastTimestamp backs the strictly monotonic clock used for session and
// message timestamps, which double as pagination sort keys.
var lastTimestamp atomic.Int64

func nowMillis() int64 {
	for {
		prev := lastTimestamp.Load()
		now := time.Now().UnixMilli()
		if now <= prev {
			now = prev + 1
		}
		if lastTimestamp.CompareAndSwap(prev, now) {
			return now
		}
	}
}

func newID() string {
	return ulid.Make().String()
}

// placeholders returns "?,?,...,?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}
	return string(buf)
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
