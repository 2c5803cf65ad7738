package hsg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecaySalienceReducesSalienceOverTime(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mem, err := e.Add(ctx, "Run the nightly backup job and verify checksums.", strPtr("u1"), AddOptions{})
	require.NoError(t, err)

	require.NoError(t, e.DecaySalience(ctx, time.Now().Add(-48*time.Hour)))

	got, _, err := e.Get(ctx, mem.ID, strPtr("u1"))
	require.NoError(t, err)
	require.Less(t, got.Salience, mem.Salience)
}

func TestDecaySalienceNoopForZeroElapsed(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.DecaySalience(ctx, time.Now()))
}

func TestConsolidateMergesColdUnreferencedMemories(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	m1, err := e.Add(ctx, "Install the logging agent and configure it step by step.", strPtr("u1"), AddOptions{})
	require.NoError(t, err)
	m2, err := e.Add(ctx, "Install the logging agent and configure rotation step by step.", strPtr("u1"), AddOptions{})
	require.NoError(t, err)

	tenant := tenantScope(strPtr("u1"))
	existing1, err := e.meta.GetMemory(ctx, m1.ID, tenant)
	require.NoError(t, err)
	existing1.Salience = 0.01
	require.NoError(t, e.meta.UpdateMemory(ctx, existing1))

	existing2, err := e.meta.GetMemory(ctx, m2.ID, tenant)
	require.NoError(t, err)
	existing2.Salience = 0.01
	require.NoError(t, e.meta.UpdateMemory(ctx, existing2))

	e.cfg.ReflectClusteringThreshold = -1.0 // force the cluster to merge regardless of vector distance

	n, err := e.Consolidate(ctx, strPtr("u1"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestConsolidateIsNoopWithFewerThanTwoColdMemories(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, "Only one memory exists in this sector.", strPtr("u1"), AddOptions{})
	require.NoError(t, err)

	n, err := e.Consolidate(ctx, strPtr("u1"))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
