package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openmemory/core/pkg/crypto"
	"github.com/openmemory/core/pkg/embedder/synthetic"
	lockmem "github.com/openmemory/core/pkg/lock/memory"
	metasqlite "github.com/openmemory/core/pkg/metastore/sqlite"
	"github.com/openmemory/core/pkg/temporal"
	vecsqlite "github.com/openmemory/core/pkg/vectorstore/sqlite"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	meta, err := metasqlite.New(metasqlite.Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	vectors, err := vecsqlite.New(vecsqlite.Config{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	temp, err := temporal.New(meta.DB(), 0.2)
	require.NoError(t, err)

	envelope, err := crypto.New("test-primary-root-key-0123456789", "")
	require.NoError(t, err)

	c, err := New(Deps{
		Meta:     meta,
		Vectors:  vectors,
		Temporal: temp,
		Embedder: synthetic.New(64),
		Envelope: envelope,
		Locks:    lockmem.New(),
		NodeID:   1,
	})
	require.NoError(t, err)
	return c
}

func strPtr(s string) *string { return &s }

func TestClientAddGetUpdateDeleteRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	mem, err := c.Add(ctx, "Install the linter and configure it to run on save.", strPtr("u1"), []string{"tooling"}, nil)
	require.NoError(t, err)

	_, plaintext, err := c.Get(ctx, mem.ID, strPtr("u1"))
	require.NoError(t, err)
	require.Equal(t, "Install the linter and configure it to run on save.", plaintext)

	_, err = c.Update(ctx, mem.ID, "Install the formatter and configure it to run on save.", strPtr("u1"))
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, mem.ID, strPtr("u1")))
	_, _, err = c.Get(ctx, mem.ID, strPtr("u1"))
	require.Error(t, err)
}

func TestClientCompareAndTimeline(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	userID := "u1"
	t1 := time.Now().Add(-48 * time.Hour)
	t2 := time.Now()

	_, _, err := c.temporal.InsertFact(ctx, "project:x", "status", "planning", t1, 1.0, nil, &userID)
	require.NoError(t, err)
	_, _, err = c.temporal.InsertFact(ctx, "project:x", "status", "in_progress", t2, 1.0, nil, &userID)
	require.NoError(t, err)

	diff, err := c.Compare(ctx, "project:x", t1, time.Now(), &userID)
	require.NoError(t, err)
	require.NotNil(t, diff)

	timeline, err := c.Timeline(ctx, "project:x", t1.Add(-time.Hour), time.Now(), &userID)
	require.NoError(t, err)
	require.NotEmpty(t, timeline)
}

func TestIdeGetContextCombinesSearchAndFacts(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	userID := "u1"
	_, err := c.Add(ctx, "How to configure the pre-commit hook step by step.", &userID, nil, nil)
	require.NoError(t, err)

	_, _, err = c.temporal.InsertFact(ctx, "user:u1", "editor", "vim", time.Now(), 1.0, nil, &userID)
	require.NoError(t, err)

	result, err := c.Ide().GetContext(ctx, "configure pre-commit hook", userID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, result.Memories)
	require.NotEmpty(t, result.Facts)
}

func TestIdeGetPatternsReportsTransitions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	userID := "u1"
	_, _, err := c.temporal.InsertFact(ctx, "user:u1", "theme", "light", time.Now().Add(-72*time.Hour), 1.0, nil, &userID)
	require.NoError(t, err)
	_, _, err = c.temporal.InsertFact(ctx, "user:u1", "theme", "dark", time.Now(), 1.0, nil, &userID)
	require.NoError(t, err)

	freq, err := c.Ide().GetPatterns(ctx, userID, "theme", 7)
	require.NoError(t, err)
	require.GreaterOrEqual(t, freq.Transitions, 1)
}
