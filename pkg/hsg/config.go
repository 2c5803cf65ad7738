// Package hsg implements the Hierarchical Semantic Graph memory
// engine: the Add/Search/Update/Delete operations, coactivation-driven
// waypoint reinforcement, and salience decay/consolidation that sit on
// top of the metadata store, vector store, and temporal store.
//
// Grounded on the teacher's pkg/core/memory.go Client (the overall
// Add/Search/Update/Delete/Close shape and embed-then-store flow) and
// pkg/intelligence (dedup.go's search-then-threshold duplicate check,
// ebbinghaus.go's decay/reinforcement formulas, generalized from a
// single flat memory store to the sector-partitioned HSG model.
package hsg

import (
	"github.com/openmemory/core/pkg/sector"
)

// ScoreWeights are the composite search-score coefficients from the
// hybrid retrieval formula. All fields are expected to be >= 0.
type ScoreWeights struct {
	Similarity     float64 // w_sim
	KeywordOverlap float64 // w_overlap
	WaypointBoost  float64 // w_way
	Recency        float64 // w_rec
	TagMatch       float64 // w_tag
	Salience       float64 // w_sal
	BM25           float64 // w_kw
}

// DefaultScoreWeights mirror the relative emphasis the teacher's
// importance.go scoring gives to recency vs. semantic match vs.
// reinforcement, rebalanced across the HSG formula's seven terms.
var DefaultScoreWeights = ScoreWeights{
	Similarity:     1.0,
	KeywordOverlap: 0.3,
	WaypointBoost:  0.2,
	Recency:        0.25,
	TagMatch:       0.15,
	Salience:       0.2,
	BM25:           0.3,
}

// Config tunes every numeric knob the HSG engine needs. Sector-level
// decay/weight/dimension hints come from sector.Defaults; everything
// else defaults here.
type Config struct {
	Weights ScoreWeights

	// SectorConfig maps each sector to its decay/scoring tuning. Falls
	// back to sector.Defaults when nil.
	SectorConfig map[sector.Sector]sector.Config

	// MinScore drops search candidates scoring below this composite
	// value.
	MinScore float64

	// CorpusSize parameterizes BM25's idf term and AvgDocLength its
	// document-length normalization. The
	// source hardcodes these; this spec keeps the defaults but makes
	// them configurable pending live corpus statistics (an open
	// question deferred, not resolved, by this implementation).
	CorpusSize   int
	AvgDocLength float64

	// DuplicateBoost is the salience increment applied to a memory
	// found via the dedup probe in Add, clamped to 1.
	DuplicateBoost float64

	// ReinforcementFactor (eta) scales waypoint weight growth during
	// coactivation flush: w <- min(1, w + eta*activation).
	ReinforcementFactor float64

	// WaypointPruneThreshold removes waypoints with weight below this
	// value during the coactivation flush pass.
	WaypointPruneThreshold float64

	// DecayColdThreshold is the salience floor below which a memory
	// with no inbound waypoints becomes a consolidation candidate.
	DecayColdThreshold float64

	// ReflectClusteringThreshold is the minimum cosine similarity for
	// two cold memories in the same sector to be consolidated together.
	ReflectClusteringThreshold float64

	// IngestSectionSize bounds the concatenated essence length of a
	// consolidated "slow" memory's content.
	IngestSectionSize int

	// SearchCandidateMultiplier and SearchCandidateFloor compute
	// k' = max(limit*multiplier, floor) for per-sector ANN calls.
	SearchCandidateMultiplier int
	SearchCandidateFloor      int

	// WaypointBoostMaxHops bounds one-hop waypoint boost propagation so
	// it cannot run away across a densely connected graph.
	WaypointBoostMaxHops int
}

// DefaultConfig returns the engine configuration matching spec.md's
// documented defaults and the Open Question resolutions recorded in
// DESIGN.md.
func DefaultConfig() Config {
	return Config{
		Weights:                    DefaultScoreWeights,
		MinScore:                   0.1,
		CorpusSize:                 10000,
		AvgDocLength:               100,
		DuplicateBoost:             0.1,
		ReinforcementFactor:        0.15,
		WaypointPruneThreshold:     0.05,
		DecayColdThreshold:         0.2,
		ReflectClusteringThreshold: 0.85,
		IngestSectionSize:          512,
		SearchCandidateMultiplier:  4,
		SearchCandidateFloor:       20,
		WaypointBoostMaxHops:       1,
	}
}

func (c Config) sectorConfig(s sector.Sector) sector.Config {
	if c.SectorConfig != nil {
		if cfg, ok := c.SectorConfig[s]; ok {
			return cfg
		}
	}
	return sector.Defaults[s]
}
