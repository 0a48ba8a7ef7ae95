package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

// Store is the address book and mail history repository. All access goes
// through its methods; each method holds mu for its whole duration, so at
// most one store operation is in flight at a time.
type Store struct {
	mu sync.Mutex
	db *sqlx.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sqlx.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps in-memory databases alive and the foreign_keys
	// pragma (which is per connection) in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS recipients (
            id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL CHECK (status IN ('Active', 'Inactive'))
        );`,
		`CREATE TABLE IF NOT EXISTS groups (
            id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE
        );`,
		`CREATE TABLE IF NOT EXISTS group_recipients (
            group_id INTEGER NOT NULL,
            recipient_id INTEGER NOT NULL,
            PRIMARY KEY (group_id, recipient_id),
            FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE,
            FOREIGN KEY (recipient_id) REFERENCES recipients(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS templates (
            id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            format_string TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS email_history (
            id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
            subject TEXT NOT NULL,
            body TEXT NOT NULL,
            sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS email_history_recipients (
            email_history_id INTEGER NOT NULL,
            recipient_id INTEGER NOT NULL,
            PRIMARY KEY (email_history_id, recipient_id),
            FOREIGN KEY (email_history_id) REFERENCES email_history(id),
            FOREIGN KEY (recipient_id) REFERENCES recipients(id)
        );`,
		`CREATE TABLE IF NOT EXISTS events (
            id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            description TEXT,
            start_time DATETIME NOT NULL,
            end_time DATETIME,
            is_all_day BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS event_attendees (
            id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
            event_id INTEGER NOT NULL,
            recipient_id INTEGER NOT NULL,
            invitation_type TEXT NOT NULL CHECK (invitation_type IN ('Required', 'Optional')),
            FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE,
            FOREIGN KEY (recipient_id) REFERENCES recipients(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_recipients_status ON recipients(status);`,
		`CREATE INDEX IF NOT EXISTS idx_group_recipients_recipient ON group_recipients(recipient_id);`,
		`CREATE INDEX IF NOT EXISTS idx_email_history_sent ON email_history(sent_at);`,
		`CREATE INDEX IF NOT EXISTS idx_email_history_recipients_recipient ON email_history_recipients(recipient_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_event_attendees_event ON event_attendees(event_id);`,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction. The caller must hold mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Store(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Store(err, "commit tx")
	}
	return nil
}

// constraintKind classifies sqlite constraint violations: unique and
// primary key collisions are conflicts, dangling foreign keys mean a parent
// row is missing.
func constraintKind(err error) apperr.Kind {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return apperr.KindUnknown
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return apperr.KindConflict
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return apperr.KindNotFound
	}
	if se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return apperr.KindUnknown
	}
	msg := se.Error()
	switch {
	case strings.Contains(msg, "UNIQUE"), strings.Contains(msg, "PRIMARY KEY"):
		return apperr.KindConflict
	case strings.Contains(msg, "FOREIGN KEY"):
		return apperr.KindNotFound
	}
	return apperr.KindUnknown
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// timeLayout matches the text produced by CURRENT_TIMESTAMP so stored
// values compare correctly as strings.
const timeLayout = "2006-01-02 15:04:05"

var parseLayouts = []string{
	timeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05Z07:00",
	time.RFC3339Nano,
	"2006-01-02",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timestamp scans sqlite DATETIME columns whether the driver hands back
// text or an already parsed time.Time.
type timestamp struct {
	Time  time.Time
	Valid bool
}

func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.Time, ts.Valid = time.Time{}, false
		return nil
	case time.Time:
		ts.Time, ts.Valid = v.UTC(), true
		return nil
	case int64:
		ts.Time, ts.Valid = time.Unix(v, 0).UTC(), true
		return nil
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	}
	return fmt.Errorf("scan timestamp: unsupported type %T", src)
}

func (ts *timestamp) parse(value string) error {
	for _, layout := range parseLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			ts.Time, ts.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("scan timestamp: unrecognized format %q", value)
}

func (ts timestamp) ptr() *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
