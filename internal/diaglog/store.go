// Package diaglog keeps warnings and errors in a small SQLite database next
// to the config file so problems from earlier runs stay inspectable.
package diaglog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// FileName is the database file inside the app directory.
	FileName = "diagnostics.db"

	// DefaultRetention bounds the table; older rows are pruned on insert.
	DefaultRetention = 1000

	maxMessageBytes = 2048
	maxSourceBytes  = 128
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("diagnostics store closed")

// Entry is one recorded log record.
type Entry struct {
	ID      int64     `json:"id"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Source  string    `json:"source,omitempty"`
}

// Store is a SQLite-backed diagnostics log. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	path      string
	retention int
	inserts   int
}

// Open creates or opens the database at path. A retention of zero or less
// uses DefaultRetention.
func Open(path string, retention int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("diagnostics store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create diagnostics directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open diagnostics database: %w", err)
	}
	// One writer; the log is tiny and writes are rare.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect diagnostics database: %w", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Store{db: db, path: path, retention: retention}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_entries_ts ON entries(ts DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize diagnostics schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Record inserts one entry. Every retention/10 inserts the oldest rows
// beyond the retention limit are pruned.
func (s *Store) Record(ctx context.Context, ts time.Time, level slog.Level, msg string, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (ts, level, message, source) VALUES (?, ?, ?, ?)`,
		ts.UnixNano(), level.String(), truncate(msg, maxMessageBytes), truncate(source, maxSourceBytes),
	)
	if err != nil {
		return fmt.Errorf("record diagnostics entry: %w", err)
	}

	s.inserts++
	if s.inserts%pruneEvery(s.retention) == 0 {
		if err := s.pruneLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

func pruneEvery(retention int) int {
	return max(retention/10, 1)
}

func (s *Store) pruneLocked(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE id NOT IN (SELECT id FROM entries ORDER BY id DESC LIMIT ?)`,
		s.retention,
	)
	if err != nil {
		return fmt.Errorf("prune diagnostics entries: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. limit is capped at the
// retention; the table never keeps more than that for long.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return []Entry{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	limit = min(limit, s.retention)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, level, message, source FROM entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load diagnostics entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e  Entry
			ns int64
		)
		if err := rows.Scan(&e.ID, &ns, &e.Level, &e.Message, &e.Source); err != nil {
			return nil, fmt.Errorf("scan diagnostics entry: %w", err)
		}
		e.Time = time.Unix(0, ns)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count diagnostics entries: %w", err)
	}
	return n, nil
}

// Clear deletes every entry.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear diagnostics entries: %w", err)
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
