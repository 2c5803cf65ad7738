package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func strPtr(s string) *string { return &s }

func sampleMemory(id int64, userID *string) *metastore.Memory {
	now := time.Now()
	return &metastore.Memory{
		ID:            id,
		UserID:        userID,
		Content:       "v1:ciphertext",
		PrimarySector: sector.Episodic,
		Sectors:       []sector.Weighted{{Sector: sector.Episodic, Weight: 1.0}},
		Tags:          []string{"trip", "paris"},
		Metadata:      map[string]interface{}{"source": "chat"},
		Salience:      0.8,
		Simhash:       0xDEADBEEF,
		CreatedAt:     now,
		LastSeenAt:    now,
		AccessCount:   0,
	}
}

func TestInsertAndGetMemoryRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	m := sampleMemory(1, strPtr("u1"))
	require.NoError(t, c.InsertMemory(ctx, m))

	got, err := c.GetMemory(ctx, 1, metastore.Some("u1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, m.Content, got.Content)
	require.Equal(t, m.PrimarySector, got.PrimarySector)
	require.Equal(t, []string{"trip", "paris"}, got.Tags)
	require.Equal(t, "chat", got.Metadata["source"])
	require.Equal(t, uint64(0xDEADBEEF), got.Simhash)
}

func TestGetMemoryTenantIsolation(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertMemory(ctx, sampleMemory(1, strPtr("u1"))))

	got, err := c.GetMemory(ctx, 1, metastore.Some("u2"))
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = c.GetMemory(ctx, 1, metastore.Any())
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestFindBySimhashScopedToTenant(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertMemory(ctx, sampleMemory(1, strPtr("u1"))))

	found, err := c.FindBySimhash(ctx, 0xDEADBEEF, metastore.Some("u1"))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, int64(1), found.ID)

	notFound, err := c.FindBySimhash(ctx, 0xDEADBEEF, metastore.Some("u2"))
	require.NoError(t, err)
	require.Nil(t, notFound)
}

func TestUpdateMemoryOverwritesMutableFields(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	m := sampleMemory(1, strPtr("u1"))
	require.NoError(t, c.InsertMemory(ctx, m))

	m.Salience = 0.42
	m.Tags = []string{"updated"}
	require.NoError(t, c.UpdateMemory(ctx, m))

	got, err := c.GetMemory(ctx, 1, metastore.Some("u1"))
	require.NoError(t, err)
	require.InDelta(t, 0.42, got.Salience, 1e-9)
	require.Equal(t, []string{"updated"}, got.Tags)
}

func TestUpdateMemoryUnknownIDErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	m := sampleMemory(99, strPtr("u1"))
	err := c.UpdateMemory(ctx, m)
	require.Error(t, err)
}

func TestDeleteMemoryScopedToTenant(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertMemory(ctx, sampleMemory(1, strPtr("u1"))))

	err := c.DeleteMemory(ctx, 1, metastore.Some("u2"))
	require.Error(t, err)

	require.NoError(t, c.DeleteMemory(ctx, 1, metastore.Some("u1")))

	got, err := c.GetMemory(ctx, 1, metastore.Any())
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetAllMemoriesFiltersBySectorAndTags(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	m1 := sampleMemory(1, strPtr("u1"))
	m2 := sampleMemory(2, strPtr("u1"))
	m2.PrimarySector = sector.Procedural
	m2.Tags = []string{"recipe"}

	require.NoError(t, c.InsertMemory(ctx, m1))
	require.NoError(t, c.InsertMemory(ctx, m2))

	all, err := c.GetAllMemories(ctx, metastore.MemoryFilter{Tenant: metastore.Some("u1")})
	require.NoError(t, err)
	require.Len(t, all, 2)

	episodicOnly, err := c.GetAllMemories(ctx, metastore.MemoryFilter{
		Tenant:  metastore.Some("u1"),
		Sectors: []sector.Sector{sector.Episodic},
	})
	require.NoError(t, err)
	require.Len(t, episodicOnly, 1)
	require.Equal(t, int64(1), episodicOnly[0].ID)

	tagged, err := c.GetAllMemories(ctx, metastore.MemoryFilter{
		Tenant: metastore.Some("u1"),
		Tags:   []string{"recipe"},
	})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	require.Equal(t, int64(2), tagged[0].ID)
}

func TestGetAllMemoriesWithAnyTenantAndNoOtherFilters(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertMemory(ctx, sampleMemory(1, strPtr("u1"))))
	require.NoError(t, c.InsertMemory(ctx, sampleMemory(2, nil)))

	all, err := c.GetAllMemories(ctx, metastore.MemoryFilter{Tenant: metastore.Any()})
	require.NoError(t, err)
	require.Len(t, all, 2)

	sysOnly, err := c.GetAllMemories(ctx, metastore.MemoryFilter{Tenant: metastore.Null()})
	require.NoError(t, err)
	require.Len(t, sysOnly, 1)
	require.Equal(t, int64(2), sysOnly[0].ID)
}

func TestTouchAccessIncrementsCountAndClampsSalience(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	m := sampleMemory(1, strPtr("u1"))
	m.Salience = 0.95
	require.NoError(t, c.InsertMemory(ctx, m))

	require.NoError(t, c.TouchAccess(ctx, 1, 0.5, time.Now()))

	got, err := c.GetMemory(ctx, 1, metastore.Some("u1"))
	require.NoError(t, err)
	require.Equal(t, int64(1), got.AccessCount)
	require.InDelta(t, 1.0, got.Salience, 1e-9)
}

func TestWaypointUpsertAndQuery(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertMemory(ctx, sampleMemory(1, strPtr("u1"))))
	require.NoError(t, c.InsertMemory(ctx, sampleMemory(2, strPtr("u1"))))

	now := time.Now()
	w := &metastore.Waypoint{SrcID: 1, DstID: 2, Weight: 0.3, UserID: strPtr("u1"), CreatedAt: now, LastReinforcedAt: now}
	require.NoError(t, c.UpsertWaypoint(ctx, w))

	got, err := c.GetWaypoint(ctx, 1, 2, metastore.Some("u1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.InDelta(t, 0.3, got.Weight, 1e-9)

	w.Weight = 0.9
	require.NoError(t, c.UpsertWaypoint(ctx, w))

	got, err = c.GetWaypoint(ctx, 1, 2, metastore.Some("u1"))
	require.NoError(t, err)
	require.InDelta(t, 0.9, got.Weight, 1e-9)

	out, err := c.OutgoingWaypoints(ctx, 1, metastore.Some("u1"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	in, err := c.IncomingWaypoints(ctx, 2, metastore.Some("u1"))
	require.NoError(t, err)
	require.Len(t, in, 1)

	in, err = c.IncomingWaypoints(ctx, 2, metastore.Some("u2"))
	require.NoError(t, err)
	require.Empty(t, in)
}

func TestDeleteWaypointsForRemovesBothDirections(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertMemory(ctx, sampleMemory(1, strPtr("u1"))))
	require.NoError(t, c.InsertMemory(ctx, sampleMemory(2, strPtr("u1"))))
	require.NoError(t, c.InsertMemory(ctx, sampleMemory(3, strPtr("u1"))))

	now := time.Now()
	require.NoError(t, c.UpsertWaypoint(ctx, &metastore.Waypoint{SrcID: 1, DstID: 2, Weight: 0.5, UserID: strPtr("u1"), CreatedAt: now, LastReinforcedAt: now}))
	require.NoError(t, c.UpsertWaypoint(ctx, &metastore.Waypoint{SrcID: 3, DstID: 1, Weight: 0.5, UserID: strPtr("u1"), CreatedAt: now, LastReinforcedAt: now}))

	require.NoError(t, c.DeleteWaypointsFor(ctx, 1, metastore.Some("u1")))

	out, err := c.OutgoingWaypoints(ctx, 1, metastore.Some("u1"))
	require.NoError(t, err)
	require.Empty(t, out)

	in, err := c.IncomingWaypoints(ctx, 1, metastore.Some("u1"))
	require.NoError(t, err)
	require.Empty(t, in)
}

func TestPruneWaypointsBelowRemovesWeakEdges(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.InsertMemory(ctx, sampleMemory(1, strPtr("u1"))))
	require.NoError(t, c.InsertMemory(ctx, sampleMemory(2, strPtr("u1"))))

	now := time.Now()
	require.NoError(t, c.UpsertWaypoint(ctx, &metastore.Waypoint{SrcID: 1, DstID: 2, Weight: 0.01, UserID: strPtr("u1"), CreatedAt: now, LastReinforcedAt: now}))

	removed, err := c.PruneWaypointsBelow(ctx, 0.05)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestDecaySalienceAppliesPerSectorLambda(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	m := sampleMemory(1, strPtr("u1"))
	m.Salience = 1.0
	m.PrimarySector = sector.Episodic
	require.NoError(t, c.InsertMemory(ctx, m))

	err := c.DecaySalience(ctx, map[sector.Sector]float64{sector.Episodic: 1.0}, 1.0)
	require.NoError(t, err)

	got, err := c.GetMemory(ctx, 1, metastore.Some("u1"))
	require.NoError(t, err)
	require.Less(t, got.Salience, 1.0)
	require.Greater(t, got.Salience, 0.0)
}
