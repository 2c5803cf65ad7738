// Package sqlite implements lock.Manager over a SQL table, guarded by
// an UPSERT whose WHERE clause only overwrites an unexpired lease when
// the caller's token already owns it. Grounded on the teacher's
// transaction style in pkg/storage/sqlite/client.go (ExecContext +
// RowsAffected to detect whether a write actually applied).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openmemory/core/pkg/lock"
)

// Manager implements lock.Manager using a SQL table named
// system_locks, created by New if it does not exist.
type Manager struct {
	db    *sql.DB
	table string
}

// New stores locks through an already-open *sql.DB, which may be the
// metadata store's own connection pool; it opens no connection itself.
func New(db *sql.DB) (*Manager, error) {
	m := &Manager{db: db, table: "system_locks"}
	if err := m.initTable(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			lock_key TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		)
	`, m.table)
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

// Acquire takes or renews the named lease. The UPSERT only applies
// when no row exists, the existing lease has expired, or the existing
// lease is already held by token — any other case leaves the row
// untouched and Acquire reports false.
func (m *Manager) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	query := fmt.Sprintf(`
		INSERT INTO %s (lock_key, token, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(lock_key) DO UPDATE SET
			token = excluded.token,
			expires_at = excluded.expires_at
		WHERE %s.expires_at < ? OR %s.token = ?
	`, m.table, m.table, m.table)

	result, err := m.db.ExecContext(ctx, query, name, token, expiresAt, now, token)
	if err != nil {
		return false, fmt.Errorf("lock/sqlite: acquire: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lock/sqlite: acquire: %w", err)
	}
	return affected > 0, nil
}

// Release drops the named lease if token owns it.
func (m *Manager) Release(ctx context.Context, name, token string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE lock_key = ? AND token = ?`, m.table)
	result, err := m.db.ExecContext(ctx, query, name, token)
	if err != nil {
		return fmt.Errorf("lock/sqlite: release: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock/sqlite: release: %w", err)
	}
	if affected == 0 {
		var exists bool
		row := m.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE lock_key = ?`, m.table), name)
		if err := row.Scan(new(int)); err == nil {
			exists = true
		}
		if exists {
			return lock.ErrNotOwned
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	return m.db.Close()
}
