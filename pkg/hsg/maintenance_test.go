package hsg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmemory/core/pkg/sector"
)

func TestVerifyVectorCoverageReportsNoGapsAfterAdd(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Add(ctx, "Configure the CI pipeline to run tests on every push.", strPtr("u1"), AddOptions{})
	require.NoError(t, err)

	report, err := e.VerifyVectorCoverage(ctx, strPtr("u1"))
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalMemories)
	for _, missing := range report.MissingBySector {
		require.Equal(t, 0, missing)
	}
}

func TestVerifyVectorCoverageDetectsMissingVector(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mem, err := e.Add(ctx, "Configure the CI pipeline to run tests on every push.", strPtr("u1"), AddOptions{})
	require.NoError(t, err)

	tenant := tenantScope(strPtr("u1"))
	require.NoError(t, e.vectors.DeleteVectors(ctx, []int64{mem.ID}, tenant))

	report, err := e.VerifyVectorCoverage(ctx, strPtr("u1"))
	require.NoError(t, err)
	require.Greater(t, report.MissingBySector[mem.PrimarySector], 0)
}

func TestPruneOrphanVectorsRemovesVectorsWithoutMetadata(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tenant := tenantScope(strPtr("u1"))
	require.NoError(t, e.vectors.StoreVector(ctx, 9999, sector.Semantic, make([]float64, 64), strPtr("u1"), nil))

	pruned, err := e.PruneOrphanVectors(ctx, strPtr("u1"))
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	rec, err := e.vectors.GetVector(ctx, 9999, sector.Semantic, tenant)
	require.NoError(t, err)
	require.Nil(t, rec)
}
