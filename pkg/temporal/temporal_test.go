package temporal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/openmemory/core/pkg/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	s, err := New(db, 0.3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestInsertFactCreatesWhenNoneExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	fact, events, err := s.InsertFact(ctx, "alice", "livesIn", "boston", now, 0.6, nil, strPtr("u1"))
	require.NoError(t, err)
	require.Equal(t, "boston", fact.Object)
	require.Len(t, events, 1)
	require.Equal(t, EventFactCreated, events[0].Kind)
	require.Nil(t, fact.ValidTo)
}

func TestInsertFactReinforcesIdenticalObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first, _, err := s.InsertFact(ctx, "alice", "livesIn", "boston", now, 0.5, nil, strPtr("u1"))
	require.NoError(t, err)

	second, events, err := s.InsertFact(ctx, "alice", "livesIn", "boston", now.Add(time.Hour), 0.5, nil, strPtr("u1"))
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, first.ID, second.ID)
	require.Greater(t, second.Confidence, first.Confidence)
}

func TestInsertFactSupersedesChangedObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first, _, err := s.InsertFact(ctx, "alice", "livesIn", "boston", now, 0.6, nil, strPtr("u1"))
	require.NoError(t, err)

	second, events, err := s.InsertFact(ctx, "alice", "livesIn", "chicago", now.Add(time.Hour), 0.6, nil, strPtr("u1"))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, EventFactSuperseded, events[0].Kind)
	require.Equal(t, EventFactCreated, events[1].Kind)
	require.NotEqual(t, first.ID, second.ID)

	atNow, err := s.QueryFactsAtTime(ctx, "alice", "livesIn", now.Add(time.Hour), strPtr("u1"))
	require.NoError(t, err)
	require.Len(t, atNow, 1)
	require.Equal(t, "chicago", atNow[0].Object)
}

func TestInvalidateFactRejectsTimeBeforeValidFrom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	fact, _, err := s.InsertFact(ctx, "alice", "livesIn", "boston", now, 0.6, nil, strPtr("u1"))
	require.NoError(t, err)

	err = s.InvalidateFact(ctx, fact.ID, "manual correction", now.Add(-time.Hour))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindIntegrity))
}

func TestQueryFactsAtTimeHonorsInterval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now()

	_, _, err := s.InsertFact(ctx, "alice", "livesIn", "boston", t0, 0.6, nil, strPtr("u1"))
	require.NoError(t, err)
	_, _, err = s.InsertFact(ctx, "alice", "livesIn", "chicago", t0.Add(2*time.Hour), 0.6, nil, strPtr("u1"))
	require.NoError(t, err)

	before, err := s.QueryFactsAtTime(ctx, "alice", "livesIn", t0.Add(time.Hour), strPtr("u1"))
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.Equal(t, "boston", before[0].Object)

	after, err := s.QueryFactsAtTime(ctx, "alice", "livesIn", t0.Add(3*time.Hour), strPtr("u1"))
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "chicago", after[0].Object)
}

func TestCompareTimePointsClassifiesPredicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now()

	_, _, err := s.InsertFact(ctx, "alice", "livesIn", "boston", t0, 0.6, nil, strPtr("u1"))
	require.NoError(t, err)
	_, _, err = s.InsertFact(ctx, "alice", "employer", "acme", t0, 0.6, nil, strPtr("u1"))
	require.NoError(t, err)

	_, _, err = s.InsertFact(ctx, "alice", "livesIn", "chicago", t0.Add(2*time.Hour), 0.6, nil, strPtr("u1"))
	require.NoError(t, err)
	_, _, err = s.InsertFact(ctx, "alice", "title", "engineer", t0.Add(2*time.Hour), 0.6, nil, strPtr("u1"))
	require.NoError(t, err)

	diff, err := s.CompareTimePoints(ctx, "alice", t0.Add(time.Hour), t0.Add(3*time.Hour), strPtr("u1"))
	require.NoError(t, err)

	require.Contains(t, diff.Changed, "livesIn")
	require.Contains(t, diff.Unchanged, "employer")
	require.Contains(t, diff.Added, "title")
}

func TestDecayConfidenceClosesFactsBelowFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fact, _, err := s.InsertFact(ctx, "alice", "mood", "happy", time.Now(), 0.1, nil, strPtr("u1"))
	require.NoError(t, err)

	// Backdate last_updated far enough that a modest lambda still
	// drives confidence under the floor.
	_, err = s.db.ExecContext(ctx, `UPDATE temporal_facts SET last_updated = ? WHERE id = ?`,
		time.Now().Add(-240*time.Hour), fact.ID)
	require.NoError(t, err)

	closed, err := s.DecayConfidence(ctx, 0.5, 0.05)
	require.NoError(t, err)
	require.Equal(t, 1, closed)
}
