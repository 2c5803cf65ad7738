// Package sector defines the closed set of cognitive sectors a memory
// can belong to, their static tuning configuration, and the
// deterministic content classifier that assigns sectors to new
// content.
//
// The classifier is grounded in the teacher's keyword/heuristic scoring
// style (pkg/intelligence/importance.go's evaluateWithRules), adapted
// from a single importance score to a per-sector weight distribution.
package sector

import (
	"sort"
	"strings"
)

// Sector is one of the six cognitive categories a memory may belong
// to. The set is closed; new sectors are not a runtime concept.
type Sector string

const (
	Episodic   Sector = "episodic"
	Semantic   Sector = "semantic"
	Procedural Sector = "procedural"
	Emotional  Sector = "emotional"
	Reflective Sector = "reflective"
	Slow       Sector = "slow"
)

// All enumerates every sector, in the tie-break precedence order used
// by Classify: procedural > episodic > emotional > reflective >
// semantic > slow.
var All = []Sector{Procedural, Episodic, Emotional, Reflective, Semantic, Slow}

// Config holds the static per-sector tuning used by the HSG engine for
// decay and scoring.
type Config struct {
	// Lambda is the recency decay rate for this sector: higher decays
	// faster.
	Lambda float64

	// Weight is this sector's contribution to composite search
	// scoring when results from multiple sectors are blended.
	Weight float64

	// DimHint is the expected embedding dimensionality for this
	// sector; used only as a hint for embedder providers, never
	// enforced by the classifier itself.
	DimHint int
}

// Defaults is the static configuration table for every sector.
// Procedural and semantic content decays slowest (durable
// how-to/fact knowledge); episodic and emotional content decays
// fastest (day-to-day, mood-bound memories).
var Defaults = map[Sector]Config{
	Procedural: {Lambda: 0.01, Weight: 1.1, DimHint: 768},
	Episodic:   {Lambda: 0.08, Weight: 1.0, DimHint: 768},
	Emotional:  {Lambda: 0.06, Weight: 0.9, DimHint: 384},
	Reflective: {Lambda: 0.03, Weight: 1.0, DimHint: 768},
	Semantic:   {Lambda: 0.02, Weight: 1.2, DimHint: 1536},
	Slow:       {Lambda: 0.005, Weight: 0.8, DimHint: 768},
}

// Valid reports whether s is one of the six closed sectors.
func Valid(s Sector) bool {
	_, ok := Defaults[s]
	return ok
}

// Weighted pairs a sector with the weight content carries toward it,
// as produced by Classify and required by the multi-sector Embedder.
type Weighted struct {
	Sector Sector
	Weight float64
}

// Classification is the result of classifying a piece of content:
// a primary sector plus the full weighted distribution it belongs to.
// Invariant: PrimarySector is always present in Sectors.
type Classification struct {
	PrimarySector Sector
	Sectors       []Weighted
}

// vocabulary maps lower-cased keyword stems to the sector(s) they
// signal, with a contribution weight. Content may hit several
// sectors; hits accumulate.
var vocabulary = map[string][]Weighted{
	// procedural: how-to, steps, commands
	"how to":    {{Procedural, 1.0}},
	"step":      {{Procedural, 0.8}},
	"steps":     {{Procedural, 0.8}},
	"command":   {{Procedural, 0.9}},
	"run":       {{Procedural, 0.5}},
	"configure": {{Procedural, 0.7}},
	"install":   {{Procedural, 0.7}},
	"procedure": {{Procedural, 0.9}},

	// episodic: events, dates, first-person happenings
	"yesterday":  {{Episodic, 1.0}},
	"today":      {{Episodic, 0.6}},
	"last week":  {{Episodic, 1.0}},
	"met":        {{Episodic, 0.6}},
	"went":       {{Episodic, 0.6}},
	"happened":   {{Episodic, 0.7}},
	"meeting":    {{Episodic, 0.6}},
	"visited":    {{Episodic, 0.7}},

	// emotional: mood and affect
	"happy":    {{Emotional, 0.9}},
	"sad":      {{Emotional, 0.9}},
	"excited":  {{Emotional, 0.8}},
	"worried":  {{Emotional, 0.8}},
	"love":     {{Emotional, 0.8}},
	"hate":     {{Emotional, 0.8}},
	"afraid":   {{Emotional, 0.8}},
	"grateful": {{Emotional, 0.7}},

	// reflective: self-analysis, lessons, opinions
	"i think":     {{Reflective, 0.8}},
	"i realized":  {{Reflective, 1.0}},
	"in hindsight": {{Reflective, 1.0}},
	"lesson":      {{Reflective, 0.9}},
	"reflecting":  {{Reflective, 0.9}},
	"opinion":     {{Reflective, 0.6}},

	// semantic: facts, definitions, general knowledge
	"is a":       {{Semantic, 0.5}},
	"definition": {{Semantic, 0.9}},
	"fact":       {{Semantic, 0.8}},
	"means":      {{Semantic, 0.6}},
	"known as":   {{Semantic, 0.7}},
}

// precedence ranks sectors for the tie-break required by the spec:
// procedural > episodic > emotional > reflective > semantic > slow.
var precedence = map[Sector]int{
	Procedural: 0,
	Episodic:   1,
	Emotional:  2,
	Reflective: 3,
	Semantic:   4,
	Slow:       5,
}

// Classifier maps content to a sector distribution using a closed
// keyword vocabulary and a fixed tie-break precedence. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	vocab      map[string][]Weighted
	precedence map[Sector]int
}

// New returns a Classifier using the default vocabulary and
// precedence order.
func New() *Classifier {
	return &Classifier{vocab: vocabulary, precedence: precedence}
}

// Classify maps content to a primary sector plus a weighted sector
// distribution. If no vocabulary term matches, content falls back to
// Semantic alone (the "default knowledge" bucket), since unclassified
// text is, on balance, more often a fact than an event or a feeling.
func (c *Classifier) Classify(content string) Classification {
	lower := strings.ToLower(content)

	scores := make(map[Sector]float64, len(All))
	for term, hits := range c.vocab {
		if strings.Contains(lower, term) {
			for _, h := range hits {
				scores[h.Sector] += h.Weight
			}
		}
	}

	if len(scores) == 0 {
		scores[Semantic] = 0.3
	}

	sectors := make([]Weighted, 0, len(scores))
	for s, w := range scores {
		sectors = append(sectors, Weighted{Sector: s, Weight: w})
	}

	sort.Slice(sectors, func(i, j int) bool {
		if sectors[i].Weight != sectors[j].Weight {
			return sectors[i].Weight > sectors[j].Weight
		}
		return c.precedence[sectors[i].Sector] < c.precedence[sectors[j].Sector]
	})

	return Classification{PrimarySector: sectors[0].Sector, Sectors: sectors}
}
