package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
	"github.com/openmemory/core/pkg/vectorstore"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{DBPath: ":memory:", Table: "vector_records"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func strPtr(s string) *string { return &s }

func TestStoreAndGetVector(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	vec := []float64{0.1, 0.2, 0.3}
	require.NoError(t, c.StoreVector(ctx, 1, sector.Episodic, vec, strPtr("u1"), map[string]interface{}{"tag": "x"}))

	rec, err := c.GetVector(ctx, 1, sector.Episodic, metastore.Some("u1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.InDeltaSlice(t, vec, rec.Vector, 1e-6)
	require.Equal(t, "x", rec.Metadata["tag"])
}

func TestGetVectorTenantIsolation(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.StoreVector(ctx, 1, sector.Episodic, []float64{1, 0}, strPtr("u1"), nil))

	rec, err := c.GetVector(ctx, 1, sector.Episodic, metastore.Some("u2"))
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestSearchSimilarOrdersByScoreThenID(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.StoreVector(ctx, 2, sector.Semantic, []float64{1, 0}, strPtr("u1"), nil))
	require.NoError(t, c.StoreVector(ctx, 1, sector.Semantic, []float64{1, 0}, strPtr("u1"), nil))
	require.NoError(t, c.StoreVector(ctx, 3, sector.Semantic, []float64{0, 1}, strPtr("u1"), nil))

	results, err := c.SearchSimilar(ctx, sector.Semantic, []float64{1, 0}, vectorstore.SearchOptions{
		Tenant: metastore.Some("u1"),
		K:      10,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Ties at score 1.0 between ids 1 and 2 break toward the smaller id.
	require.Equal(t, int64(1), results[0].MemoryID)
	require.Equal(t, int64(2), results[1].MemoryID)
	require.Equal(t, int64(3), results[2].MemoryID)
}

func TestDeleteVectorsRemovesAllSectors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.StoreVector(ctx, 1, sector.Episodic, []float64{1}, strPtr("u1"), nil))
	require.NoError(t, c.StoreVector(ctx, 1, sector.Semantic, []float64{2}, strPtr("u1"), nil))

	require.NoError(t, c.DeleteVectors(ctx, []int64{1}, metastore.Some("u1")))

	rec, err := c.GetVector(ctx, 1, sector.Episodic, metastore.Some("u1"))
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestGetAllVectorIdsRespectsCap(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, c.StoreVector(ctx, i, sector.Episodic, []float64{float64(i)}, strPtr("u1"), nil))
	}

	_, err := c.GetAllVectorIds(ctx, metastore.Some("u1"), 2)
	require.Error(t, err)

	ids, err := c.GetAllVectorIds(ctx, metastore.Some("u1"), 0)
	require.NoError(t, err)
	require.Len(t, ids, 3)
}
