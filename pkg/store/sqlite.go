package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps sessions in a single-file database for deployments
// without Redis. Expired rows are hidden on read and removed by PurgeExpired.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create session db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids writer lock contention under concurrent turns.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS kv (
			kv_key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS kv_exp_idx ON kv(expires_at_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init session db: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at_ms FROM kv WHERE kv_key = ?`, key)
	var value []byte
	var expires int64
	if err := row.Scan(&value, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, unavailable("get", key, err)
	}
	if expires > 0 && expires <= nowMS() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE kv_key = ? AND expires_at_ms = ?`, key, expires)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	now := nowMS()
	var expires int64
	if ttl > 0 {
		expires = now + ttl.Milliseconds()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv(kv_key, value, updated_at_ms, expires_at_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(kv_key) DO UPDATE SET
	value = excluded.value,
	updated_at_ms = excluded.updated_at_ms,
	expires_at_ms = excluded.expires_at_ms`, key, value, now, expires)
	if err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at_ms > 0 AND expires_at_ms <= ?`, now.UnixMilli())
	if err != nil {
		return 0, unavailable("purge", "", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
