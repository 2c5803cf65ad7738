package hsg

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// tokenize lowercases and splits on non-letter/non-digit runes. Shared
// by bm25 and keywordOverlap so both terms operate on the same
// vocabulary.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termFreq counts token occurrences in a tokenized document.
func termFreq(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}

// bm25 scores a query against a single document using Okapi BM25 with
// the standard k1=1.5, b=0.75 tuning. docFreq reports how many
// documents in the corpus contain a given term; corpusSize and
// avgDocLen are the corpus-wide statistics configured on Config.
func bm25(queryTokens []string, docTokens []string, docFreq func(term string) int, corpusSize int, avgDocLen float64) float64 {
	const k1 = 1.5
	const b = 0.75

	if len(docTokens) == 0 || corpusSize <= 0 {
		return 0
	}

	tf := termFreq(docTokens)
	docLen := float64(len(docTokens))

	var score float64
	seen := make(map[string]bool, len(queryTokens))
	for _, qt := range queryTokens {
		if seen[qt] {
			continue
		}
		seen[qt] = true

		f := float64(tf[qt])
		if f == 0 {
			continue
		}
		n := docFreq(qt)
		// Standard BM25 idf with a +1 floor so a term present in every
		// document never drives the score negative.
		idf := math.Log(1 + (float64(corpusSize)-float64(n)+0.5)/(float64(n)+0.5))
		if idf < 0 {
			idf = 0
		}
		num := f * (k1 + 1)
		den := f + k1*(1-b+b*(docLen/avgDocLen))
		score += idf * (num / den)
	}
	return score
}

// keywordOverlap computes a weighted Jaccard similarity between query
// and document token sets, with a bonus for shared bigrams so phrase
// matches outscore scattered single-token matches.
func keywordOverlap(queryTokens, docTokens []string) float64 {
	if len(queryTokens) == 0 || len(docTokens) == 0 {
		return 0
	}

	qSet := toSet(queryTokens)
	dSet := toSet(docTokens)

	var intersection, union int
	seen := make(map[string]bool, len(qSet)+len(dSet))
	for t := range qSet {
		seen[t] = true
		if dSet[t] {
			intersection++
		}
	}
	for t := range dSet {
		seen[t] = true
	}
	union = len(seen)
	if union == 0 {
		return 0
	}
	jaccard := float64(intersection) / float64(union)

	qBigrams := bigrams(queryTokens)
	dBigrams := bigrams(docTokens)
	var bigramHits int
	for bg := range qBigrams {
		if dBigrams[bg] {
			bigramHits++
		}
	}
	bonus := 0.0
	if len(qBigrams) > 0 {
		bonus = 0.25 * float64(bigramHits) / float64(len(qBigrams))
	}

	score := jaccard + bonus
	if score > 1 {
		score = 1
	}
	return score
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func bigrams(tokens []string) map[string]bool {
	if len(tokens) < 2 {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(tokens)-1)
	for i := 0; i+1 < len(tokens); i++ {
		out[tokens[i]+"_"+tokens[i+1]] = true
	}
	return out
}

// recencyScore maps an age in days to (0,1] via exponential decay with
// a 30-day half-life, independent of any sector's own salience decay
// lambda: recency rewards freshness of retrieval context, salience
// rewards durability of the memory itself.
func recencyScore(age time.Duration) float64 {
	const halfLifeDays = 30.0
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}
	lambda := math.Ln2 / halfLifeDays
	return math.Exp(-lambda * days)
}

// tagMatch is the fraction of queryTags present in memoryTags.
func tagMatch(queryTags, memoryTags []string) float64 {
	if len(queryTags) == 0 {
		return 0
	}
	memSet := toSet(memoryTags)
	var hits int
	for _, t := range queryTags {
		if memSet[strings.ToLower(t)] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTags))
}

// candidateScore is the seven-term composite: w_sim*sim +
// w_overlap*keywordOverlap + w_way*waypointBoost + w_rec*recency +
// w_tag*tagMatch + w_sal*salience + w_kw*bm25.
type candidateScore struct {
	Similarity     float64
	KeywordOverlap float64
	WaypointBoost  float64
	Recency        float64
	TagMatch       float64
	Salience       float64
	BM25           float64
}

func (w ScoreWeights) composite(s candidateScore) float64 {
	return w.Similarity*s.Similarity +
		w.KeywordOverlap*s.KeywordOverlap +
		w.WaypointBoost*s.WaypointBoost +
		w.Recency*s.Recency +
		w.TagMatch*s.TagMatch +
		w.Salience*s.Salience +
		w.BM25*s.BM25
}
