package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openmemory/core/pkg/lock"
)

func TestAcquireExclusiveAcrossTokens(t *testing.T) {
	m := New()
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "consolidation", "token-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, "consolidation", "token-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAcquireReentrantForSameToken(t *testing.T) {
	m := New()
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "consolidation", "token-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, "consolidation", "token-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseRequiresOwnership(t *testing.T) {
	m := New()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "consolidation", "token-a", time.Minute)
	require.NoError(t, err)

	err = m.Release(ctx, "consolidation", "token-b")
	require.ErrorIs(t, err, lock.ErrNotOwned)

	err = m.Release(ctx, "consolidation", "token-a")
	require.NoError(t, err)
}

func TestExpiredLeaseIsReclaimable(t *testing.T) {
	m := New()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "consolidation", "token-a", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	ok, err := m.Acquire(ctx, "consolidation", "token-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseOfUnknownLockIsNotAnError(t *testing.T) {
	m := New()
	require.NoError(t, m.Release(context.Background(), "nonexistent", "token-a"))
}
