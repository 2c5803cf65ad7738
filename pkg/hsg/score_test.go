package hsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeywordOverlapRewardsSharedBigrams(t *testing.T) {
	query := tokenize("reverse proxy configuration")
	docA := tokenize("how to configure a reverse proxy for nginx")
	docB := tokenize("a completely unrelated sentence about cooking")

	scoreA := keywordOverlap(query, docA)
	scoreB := keywordOverlap(query, docB)

	require.Greater(t, scoreA, scoreB)
	require.LessOrEqual(t, scoreA, 1.0)
}

func TestBM25RewardsRareTermMatches(t *testing.T) {
	query := []string{"kubernetes"}
	docWithTerm := []string{"kubernetes", "deployment", "rollout", "strategy"}
	docWithoutTerm := []string{"deployment", "rollout", "strategy"}

	freq := map[string]int{"kubernetes": 1, "deployment": 50, "rollout": 50, "strategy": 50}
	docFreq := func(term string) int { return freq[term] }

	scoreWith := bm25(query, docWithTerm, docFreq, 1000, 4)
	scoreWithout := bm25(query, docWithoutTerm, docFreq, 1000, 4)

	require.Greater(t, scoreWith, 0.0)
	require.Equal(t, 0.0, scoreWithout)
}

func TestRecencyScoreDecaysWithAge(t *testing.T) {
	fresh := recencyScore(0)
	aMonthOld := recencyScore(30 * 24 * time.Hour)
	aYearOld := recencyScore(365 * 24 * time.Hour)

	require.InDelta(t, 1.0, fresh, 1e-9)
	require.Greater(t, fresh, aMonthOld)
	require.Greater(t, aMonthOld, aYearOld)
}

func TestTagMatchFraction(t *testing.T) {
	require.InDelta(t, 1.0, tagMatch([]string{"work"}, []string{"work", "urgent"}), 1e-9)
	require.InDelta(t, 0.5, tagMatch([]string{"work", "missing"}, []string{"work"}), 1e-9)
	require.InDelta(t, 0.0, tagMatch(nil, []string{"work"}), 1e-9)
}

func TestCompositeScoreWeightsEachTerm(t *testing.T) {
	weights := ScoreWeights{Similarity: 1, KeywordOverlap: 1, WaypointBoost: 1, Recency: 1, TagMatch: 1, Salience: 1, BM25: 1}
	s := candidateScore{Similarity: 0.5, KeywordOverlap: 0.2, WaypointBoost: 0.1, Recency: 0.3, TagMatch: 0.4, Salience: 0.6, BM25: 0.7}
	require.InDelta(t, 0.5+0.2+0.1+0.3+0.4+0.6+0.7, weights.composite(s), 1e-9)
}
