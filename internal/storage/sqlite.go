package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/omarluq/cc-gateway/internal/quota"
)

const defaultBusyTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	key_hash        TEXT NOT NULL UNIQUE,
	prefix          TEXT NOT NULL,
	token_limit     INTEGER NOT NULL,
	window_seconds  INTEGER NOT NULL DEFAULT 0,
	enabled         INTEGER NOT NULL DEFAULT 1,
	created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_windows (
	key_id        TEXT NOT NULL,
	window_start  TEXT NOT NULL,
	tokens_used   INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (key_id, window_start)
);

CREATE INDEX IF NOT EXISTS idx_usage_windows_start ON usage_windows(window_start);
`

const keyColumns = `id, name, key_hash, prefix, token_limit, window_seconds, enabled, created_at`

// SQLiteStore implements Store on a single SQLite database file.
// It runs in WAL mode with a single connection, so writes serialize inside
// database/sql rather than contending on SQLite locks.
type SQLiteStore struct {
	db        *sql.DB
	upsert    *sql.Stmt
	load      *sql.Stmt
	lookup    *sql.Stmt
	path      string
	closeOnce sync.Once
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("storage: sqlite path cannot be empty")
	}
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: path}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("storage: initialize schema: %w", err)
	}

	var err error
	s.upsert, err = s.db.Prepare(`
		INSERT INTO usage_windows (key_id, window_start, tokens_used, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key_id, window_start) DO UPDATE SET
			tokens_used = tokens_used + excluded.tokens_used,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("storage: prepare upsert: %w", err)
	}
	s.load, err = s.db.Prepare(`
		SELECT window_start, tokens_used FROM usage_windows
		WHERE key_id = ? ORDER BY window_start`)
	if err != nil {
		return fmt.Errorf("storage: prepare load: %w", err)
	}
	s.lookup, err = s.db.Prepare(`SELECT ` + keyColumns + ` FROM api_keys WHERE key_hash = ?`)
	if err != nil {
		return fmt.Errorf("storage: prepare lookup: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// CreateKey inserts a new key.
func (s *SQLiteStore) CreateKey(ctx context.Context, rec KeyRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+keyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.KeyHash, rec.Prefix, rec.TokenLimit,
		int64(rec.WindowDuration/time.Second), boolToInt(rec.Enabled), rec.CreatedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("storage: create key: %w", err)
	}
	return nil
}

// LookupKey finds a key by the hash of its secret.
func (s *SQLiteStore) LookupKey(ctx context.Context, keyHash string) (KeyRecord, error) {
	return scanKey(s.lookup.QueryRowContext(ctx, keyHash))
}

// GetKey finds a key by id.
func (s *SQLiteStore) GetKey(ctx context.Context, id string) (KeyRecord, error) {
	return scanKey(s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = ?`, id))
}

// ListKeys returns all keys ordered by creation time.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]KeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+keyColumns+` FROM api_keys ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list keys: %w", err)
	}
	defer rows.Close()

	var out []KeyRecord
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list keys: %w", err)
	}
	return out, nil
}

// SetKeyEnabled enables or disables a key.
func (s *SQLiteStore) SetKeyEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("storage: update key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update key: %w", err)
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// LoadWindows returns the persisted windows of key ordered by start.
func (s *SQLiteStore) LoadWindows(ctx context.Context, key string) ([]quota.PersistedWindow, error) {
	rows, err := s.load.QueryContext(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("storage: load windows: %w", err)
	}
	defer rows.Close()

	var out []quota.PersistedWindow
	for rows.Next() {
		var w quota.PersistedWindow
		if err := rows.Scan(&w.WindowStart, &w.TokensUsed); err != nil {
			return nil, fmt.Errorf("storage: scan window: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: load windows: %w", err)
	}
	return out, nil
}

// ApplyUpdate adds every window delta of update in one transaction.
func (s *SQLiteStore) ApplyUpdate(ctx context.Context, update quota.PendingUpdate) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt := tx.StmtContext(ctx, s.upsert)
	now := time.Now().Unix()
	for _, wd := range update.Windows {
		if _, err = stmt.ExecContext(ctx, update.Key, quota.FormatTime(wd.Start), wd.Tokens, now); err != nil {
			return fmt.Errorf("storage: upsert window: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// PruneWindows deletes windows starting before olderThan.
func (s *SQLiteStore) PruneWindows(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_windows WHERE window_start < ?`, quota.FormatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("storage: prune windows: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close checkpoints the WAL and closes the database. It is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.upsert, s.load, s.lookup} {
			if stmt != nil {
				_ = stmt.Close()
			}
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})
	return closeErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (KeyRecord, error) {
	var (
		rec           KeyRecord
		windowSeconds int64
		enabled       int64
		createdAt     int64
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.KeyHash, &rec.Prefix, &rec.TokenLimit,
		&windowSeconds, &enabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyRecord{}, ErrKeyNotFound
	}
	if err != nil {
		return KeyRecord{}, fmt.Errorf("storage: scan key: %w", err)
	}
	rec.WindowDuration = time.Duration(windowSeconds) * time.Second
	rec.Enabled = enabled != 0
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
