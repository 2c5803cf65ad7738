package metastore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteNoExistingWhereNoTrailing(t *testing.T) {
	q, args := Rewrite("SELECT * FROM memories", "user_id", Some("u1"), nil)
	require.Equal(t, "SELECT * FROM memories WHERE user_id = ?", q)
	require.Equal(t, []interface{}{"u1"}, args)
}

func TestRewriteNoExistingWhereWithTrailing(t *testing.T) {
	q, args := Rewrite("SELECT * FROM memories ORDER BY created_at LIMIT 10", "user_id", Some("u1"), nil)
	require.Equal(t, "SELECT * FROM memories WHERE user_id = ? ORDER BY created_at LIMIT 10", q)
	require.Equal(t, []interface{}{"u1"}, args)
}

func TestRewriteExistingWhereCombinesWithAnd(t *testing.T) {
	q, args := Rewrite("SELECT * FROM memories WHERE sector = ?", "user_id", Some("u1"), []interface{}{"episodic"})
	require.Equal(t, "SELECT * FROM memories WHERE (user_id = ?) AND (sector = ?)", q)
	require.Equal(t, []interface{}{"u1", "episodic"}, args)
}

func TestRewriteExistingWhereWithTrailingClause(t *testing.T) {
	q, args := Rewrite("SELECT * FROM memories WHERE sector = ? ORDER BY score DESC", "user_id", Some("u1"), []interface{}{"episodic"})
	require.Equal(t, "SELECT * FROM memories WHERE (user_id = ?) AND (sector = ? ) ORDER BY score DESC", q)
	require.Equal(t, []interface{}{"u1", "episodic"}, args)
}

func TestRewriteNullTenantMatchesSystemRows(t *testing.T) {
	q, args := Rewrite("SELECT * FROM memories", "user_id", Null(), nil)
	require.Equal(t, "SELECT * FROM memories WHERE user_id IS NULL", q)
	require.Empty(t, args)
}

func TestRewriteAnyTenantLeavesQueryUnchanged(t *testing.T) {
	q, args := Rewrite("SELECT * FROM memories WHERE sector = ?", "user_id", Any(), []interface{}{"episodic"})
	require.Equal(t, "SELECT * FROM memories WHERE sector = ?", q)
	require.Equal(t, []interface{}{"episodic"}, args)
}

func TestRewriteIgnoresKeywordsInsideStringLiterals(t *testing.T) {
	q, _ := Rewrite("SELECT * FROM memories WHERE content = 'order by dinner'", "user_id", Some("u1"), []interface{}{"order by dinner"})
	require.Equal(t, "SELECT * FROM memories WHERE (user_id = ?) AND (content = 'order by dinner')", q)
}

func TestRewriteIgnoresKeywordsInsideParenthesizedSubquery(t *testing.T) {
	q, _ := Rewrite(
		"SELECT * FROM memories WHERE id IN (SELECT memory_id FROM waypoints ORDER BY weight)",
		"user_id", Some("u1"), nil,
	)
	require.Equal(t, "SELECT * FROM memories WHERE (user_id = ?) AND (id IN (SELECT memory_id FROM waypoints ORDER BY weight))", q)
}

func TestRewriteHandlesEscapedQuotes(t *testing.T) {
	q, _ := Rewrite("SELECT * FROM memories WHERE content = 'it''s a group by test'", "user_id", Some("u1"), nil)
	require.Equal(t, "SELECT * FROM memories WHERE (user_id = ?) AND (content = 'it''s a group by test')", q)
}
