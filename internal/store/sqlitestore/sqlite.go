// Package sqlitestore is a modernc.org/sqlite-backed implementation of
// store.Durable, the durable record backend behind the resilient store.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/arbiter-hq/arbiter/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is wrapped into a NonRetryable store.DurableError when a key
// has no row.
var ErrNotFound = errors.New("key not found")

// ErrVersionMismatch is wrapped into a NonRetryable store.DurableError when
// a Put's ifMatch precondition does not hold the current version.
var ErrVersionMismatch = errors.New("version mismatch")

// Store is the concrete Durable backend: one SQLite file holding the
// generic key/value record table every component's durable reads and
// writes ultimately land in.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and its parent directory) if needed,
// applies the schema, and returns a ready Store. WAL mode and a busy
// timeout keep concurrent readers from blocking on a writer.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite store directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY churn.

	s := &Store{db: db}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite store schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key string) (store.Record, error) {
	var rec store.Record
	rec.Key = key
	row := s.db.QueryRowContext(ctx, `SELECT value, version FROM records WHERE key = ?`, key)
	if err := row.Scan(&rec.Value, &rec.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, store.NonRetryable(fmt.Errorf("%s: %w: %w", key, ErrNotFound, store.ErrNotFound))
		}
		return store.Record{}, classify(err)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ifMatch *uint64) (store.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Record{}, classify(err)
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRowContext(ctx, `SELECT version FROM records WHERE key = ?`, key).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if ifMatch != nil {
			return store.Record{}, store.NonRetryable(fmt.Errorf("%w: key %s does not exist", ErrVersionMismatch, key))
		}
		current = 0
	case err != nil:
		return store.Record{}, classify(err)
	default:
		if ifMatch != nil && *ifMatch != current {
			return store.Record{}, store.NonRetryable(fmt.Errorf("%w: key %s at version %d, want %d", ErrVersionMismatch, key, current, *ifMatch))
		}
	}

	next := current + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (key, value, version, updated_at)
		VALUES (?, ?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version, updated_at = excluded.updated_at
	`, key, value, next)
	if err != nil {
		return store.Record{}, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return store.Record{}, classify(err)
	}
	return store.Record{Key: key, Value: value, Version: next}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, prefix string, filter store.ScanFilter) ([]store.Record, error) {
	query := `SELECT key, value, version FROM records WHERE key LIKE ? ESCAPE '\' ORDER BY key`
	args := []interface{}{escapeLike(prefix) + "%"}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version); err != nil {
			return nil, classify(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Tx(ctx context.Context, ops []store.Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		switch op.Kind {
		case store.OpPut:
			var current uint64
			err := tx.QueryRowContext(ctx, `SELECT version FROM records WHERE key = ?`, op.Key).Scan(&current)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return classify(err)
			}
			if op.IfMatch != nil && *op.IfMatch != current {
				return store.NonRetryable(fmt.Errorf("%w: key %s at version %d, want %d", ErrVersionMismatch, op.Key, current, *op.IfMatch))
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO records (key, value, version, updated_at)
				VALUES (?, ?, ?, unixepoch())
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version, updated_at = excluded.updated_at
			`, op.Key, op.Value, current+1); err != nil {
				return classify(err)
			}
		case store.OpDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, op.Key); err != nil {
				return classify(err)
			}
		}
	}
	return classify(tx.Commit())
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

// classify tags a raw sqlite error as retryable (lock contention, busy
// connection, driver-level I/O) or terminal (constraint violations,
// malformed SQL). nil passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") || strings.Contains(msg, "timeout") {
		return store.Retryable(err)
	}
	return store.NonRetryable(err)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
