// Package sqlite implements domain.PoolStore on an embedded SQLite database
// (pure Go, no CGo). SQLite has a single writer, so every transaction here
// is serialized; aggregates are still guarded by version compare-and-swap
// so the commit contract matches the PostgreSQL store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id                TEXT PRIMARY KEY,
    title             TEXT    NOT NULL,
    description       TEXT    NOT NULL DEFAULT '',
    category          TEXT    NOT NULL DEFAULT '',
    expires_at        TEXT    NOT NULL,
    status            TEXT    NOT NULL DEFAULT 'active',
    total_pool        TEXT    NOT NULL DEFAULT '0',
    participant_count INTEGER NOT NULL DEFAULT 0,
    winning_option_id TEXT,
    version           INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT    NOT NULL,
    resolved_at       TEXT
);

CREATE TABLE IF NOT EXISTS event_options (
    id           TEXT PRIMARY KEY,
    event_id     TEXT    NOT NULL REFERENCES events(id),
    label        TEXT    NOT NULL,
    position     INTEGER NOT NULL DEFAULT 0,
    total_staked TEXT    NOT NULL DEFAULT '0',
    backer_count INTEGER NOT NULL DEFAULT 0,
    UNIQUE (event_id, label)
);

CREATE TABLE IF NOT EXISTS accounts (
    id             TEXT PRIMARY KEY,
    display_name   TEXT    NOT NULL DEFAULT '',
    balance        TEXT    NOT NULL DEFAULT '0',
    unlimited      INTEGER NOT NULL DEFAULT 0,
    total_staked   TEXT    NOT NULL DEFAULT '0',
    total_winnings TEXT    NOT NULL DEFAULT '0',
    version        INTEGER NOT NULL DEFAULT 0,
    created_at     TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS stakes (
    id         TEXT PRIMARY KEY,
    event_id   TEXT NOT NULL REFERENCES events(id),
    option_id  TEXT NOT NULL REFERENCES event_options(id),
    account_id TEXT NOT NULL REFERENCES accounts(id),
    amount     TEXT NOT NULL,
    placed_at  TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    payout     TEXT,
    client_ref TEXT,
    settled_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_stakes_event_status ON stakes(event_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_stakes_client_ref ON stakes(account_id, client_ref)
    WHERE client_ref IS NOT NULL;

CREATE TABLE IF NOT EXISTS ledger_entries (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    event_id   TEXT,
    stake_id   TEXT,
    kind       TEXT NOT NULL,
    amount     TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_event   ON ledger_entries(event_id);

CREATE TABLE IF NOT EXISTS settlements (
    event_id   TEXT PRIMARY KEY REFERENCES events(id),
    report     TEXT NOT NULL,
    settled_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT NOT NULL,
    detail     TEXT,
    created_at TEXT NOT NULL
);
`

// tsLayout is fixed width so stored timestamps compare lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

func parseNullTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Store is the SQLite PoolStore.
type Store struct {
	db *sql.DB
}

var (
	_ domain.PoolStore  = (*Store)(nil)
	_ domain.AuditStore = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// Single writer. One connection also keeps ":memory:" alive and shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// appendPage adds LIMIT/OFFSET for opts.
func appendPage(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}
	return query, args
}
