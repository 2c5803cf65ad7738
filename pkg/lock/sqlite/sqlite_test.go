package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/openmemory/core/pkg/lock"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	m, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestSQLiteAcquireExclusiveAcrossTokens(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "consolidation", "token-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, "consolidation", "token-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteAcquireReentrantForSameToken(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "consolidation", "token-a", time.Minute)
	require.NoError(t, err)

	ok, err := m.Acquire(ctx, "consolidation", "token-a", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSQLiteReleaseRequiresOwnership(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "consolidation", "token-a", time.Minute)
	require.NoError(t, err)

	err = m.Release(ctx, "consolidation", "token-b")
	require.ErrorIs(t, err, lock.ErrNotOwned)

	err = m.Release(ctx, "consolidation", "token-a")
	require.NoError(t, err)
}

func TestSQLiteExpiredLeaseIsReclaimable(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "consolidation", "token-a", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	ok, err := m.Acquire(ctx, "consolidation", "token-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
