package hsg

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/openmemory/core/pkg/errs"
	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
	"github.com/openmemory/core/pkg/vectorstore"
)

// SearchOptions narrows a Search call.
type SearchOptions struct {
	Sectors []sector.Sector // empty means every sector in sector.All
	Tags    []string
	Limit   int
}

// Result is one scored, decrypted search hit.
type Result struct {
	Memory *metastore.Memory
	Score  float64
}

// Search embeds the query once, runs a per-sector approximate
// nearest-neighbor probe with that vector against the vector store
// for every requested sector, unions the candidates, keeps those
// carrying every requested tag, scores each against the composite
// formula, drops anything below Config.MinScore, and returns the
// top Limit results tie-broken by ascending memory id. If the
// embedder is unavailable, Search falls back to keyword-only scoring
// (searchKeywordOnly) rather than failing the call outright. Implements spec.md §4.3's Search
// algorithm.
func (e *Engine) Search(ctx context.Context, query string, userID *string, opts SearchOptions) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	sectors := opts.Sectors
	if len(sectors) == 0 {
		sectors = sector.All
	}
	tenant := tenantScope(userID)

	kPrime := limit * e.cfg.SearchCandidateMultiplier
	if kPrime < e.cfg.SearchCandidateFloor {
		kPrime = e.cfg.SearchCandidateFloor
	}

	queryVec, err := e.emb.Embed(ctx, query)
	if err != nil {
		e.log.Warn("Search: embedding unavailable, falling back to keyword scoring", zap.Error(err))
		return e.searchKeywordOnly(ctx, query, userID, sectors, tenant, limit, opts)
	}

	// Union candidates across sectors, keeping the best per-sector
	// similarity seen for each memory id.
	bestSim := make(map[int64]float64)
	bestSector := make(map[int64]sector.Sector)
	for _, sec := range sectors {
		scored, err := e.vectors.SearchSimilar(ctx, sec, queryVec, vectorstore.SearchOptions{
			Tenant: tenant,
			K:      kPrime,
		})
		if err != nil {
			return nil, errs.New("Search", errs.KindInternal, err)
		}
		for _, sc := range scored {
			if cur, ok := bestSim[sc.MemoryID]; !ok || sc.Score > cur {
				bestSim[sc.MemoryID] = sc.Score
				bestSector[sc.MemoryID] = sec
			}
		}
	}
	if len(bestSim) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(bestSim))
	for id := range bestSim {
		ids = append(ids, id)
	}

	candidates := make([]*metastore.Memory, 0, len(ids))
	for _, id := range ids {
		m, err := e.meta.GetMemory(ctx, id, tenant)
		if err != nil {
			return nil, errs.New("Search", errs.KindInternal, err)
		}
		if m == nil {
			continue
		}
		if len(opts.Tags) > 0 && !hasAllTags(m.Tags, opts.Tags) {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTokens := tokenize(query)
	docTokensByID := make(map[int64][]string, len(candidates))
	docFreqCount := make(map[string]int)
	for _, m := range candidates {
		plaintext, err := e.envelope.Open(tenantKey(userID), m.Content)
		if err != nil {
			continue
		}
		toks := tokenize(string(plaintext))
		docTokensByID[m.ID] = toks
		for term := range toSet(toks) {
			docFreqCount[term]++
		}
	}
	// docFreq/corpus stats are approximated from this search's
	// candidate set rather than the full tenant corpus: decrypting
	// every memory on every search to compute exact corpus statistics
	// would be prohibitively expensive. Config.CorpusSize is the corpus
	// size in the idf term (raised to the candidate count when that is
	// larger) and Config.AvgDocLength the average document length in
	// BM25's length normalization.
	corpusSize := e.cfg.CorpusSize
	if corpusSize < len(candidates) {
		corpusSize = len(candidates)
	}
	avgDocLen := e.cfg.AvgDocLength
	if avgDocLen <= 0 {
		avgDocLen = 1
	}
	docFreq := func(term string) int {
		if n, ok := docFreqCount[term]; ok {
			return n
		}
		return 0
	}

	waypointBoosts, err := e.waypointBoosts(ctx, ids, tenant)
	if err != nil {
		return nil, errs.New("Search", errs.KindInternal, err)
	}

	now := time.Now()
	results := make([]Result, 0, len(candidates))
	for _, m := range candidates {
		toks := docTokensByID[m.ID]
		cs := candidateScore{
			Similarity:     bestSim[m.ID],
			KeywordOverlap: keywordOverlap(queryTokens, toks),
			WaypointBoost:  waypointBoosts[m.ID],
			Recency:        recencyScore(now.Sub(m.LastSeenAt)),
			TagMatch:       tagMatch(opts.Tags, m.Tags),
			Salience:       m.Salience,
			BM25:           bm25(queryTokens, toks, docFreq, corpusSize, avgDocLen),
		}
		score := e.cfg.Weights.composite(cs)
		if score < e.cfg.MinScore {
			continue
		}
		results = append(results, Result{Memory: m, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	e.touchAndRecordCoactivation(ctx, results, tenant)
	return results, nil
}

// searchKeywordOnly is Search's fallback path when the embedder is
// unavailable: no sector rewrite or vector probe is possible, so every
// candidate is drawn straight from the metadata store (memories whose
// primary sector is one of sectors and which carry every requested
// tag; the vector path instead admits a memory through any of its
// sector vectors) and scored on BM25 + keyword
// overlap + the embedding-independent terms (recency, tag match,
// salience). Callers see the same Result shape, just without a
// Similarity or WaypointBoost contribution.
func (e *Engine) searchKeywordOnly(ctx context.Context, query string, userID *string, sectors []sector.Sector, tenant metastore.Tenant, limit int, opts SearchOptions) ([]Result, error) {
	candidates, err := e.meta.GetAllMemories(ctx, metastore.MemoryFilter{
		Tenant:  tenant,
		Sectors: sectors,
		Tags:    opts.Tags,
	})
	if err != nil {
		return nil, errs.New("Search", errs.KindInternal, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTokens := tokenize(query)
	docTokensByID := make(map[int64][]string, len(candidates))
	docFreqCount := make(map[string]int)
	for _, m := range candidates {
		plaintext, err := e.envelope.Open(tenantKey(userID), m.Content)
		if err != nil {
			continue
		}
		toks := tokenize(string(plaintext))
		docTokensByID[m.ID] = toks
		for term := range toSet(toks) {
			docFreqCount[term]++
		}
	}
	corpusSize := e.cfg.CorpusSize
	if corpusSize < len(candidates) {
		corpusSize = len(candidates)
	}
	avgDocLen := e.cfg.AvgDocLength
	if avgDocLen <= 0 {
		avgDocLen = 1
	}
	docFreq := func(term string) int {
		return docFreqCount[term]
	}

	now := time.Now()
	results := make([]Result, 0, len(candidates))
	for _, m := range candidates {
		toks, ok := docTokensByID[m.ID]
		if !ok {
			continue
		}
		cs := candidateScore{
			KeywordOverlap: keywordOverlap(queryTokens, toks),
			Recency:        recencyScore(now.Sub(m.LastSeenAt)),
			TagMatch:       tagMatch(opts.Tags, m.Tags),
			Salience:       m.Salience,
			BM25:           bm25(queryTokens, toks, docFreq, corpusSize, avgDocLen),
		}
		score := e.cfg.Weights.composite(cs)
		if score < e.cfg.MinScore {
			continue
		}
		results = append(results, Result{Memory: m, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	e.touchAndRecordCoactivation(ctx, results, tenant)
	return results, nil
}

func hasAllTags(have, want []string) bool {
	set := toSet(have)
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// waypointBoosts computes a one-hop boost for each candidate id: the
// maximum outgoing-edge weight from any OTHER candidate in the result
// set into that id, bounded by Config.WaypointBoostMaxHops (only hop
// depth 1 is implemented, per spec.md's documented default).
func (e *Engine) waypointBoosts(ctx context.Context, ids []int64, tenant metastore.Tenant) (map[int64]float64, error) {
	boosts := make(map[int64]float64, len(ids))
	if e.cfg.WaypointBoostMaxHops <= 0 {
		return boosts, nil
	}
	idSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	for _, id := range ids {
		out, err := e.meta.OutgoingWaypoints(ctx, id, tenant)
		if err != nil {
			return nil, err
		}
		for _, w := range out {
			if !idSet[w.DstID] {
				continue
			}
			if w.Weight > boosts[w.DstID] {
				boosts[w.DstID] = w.Weight
			}
		}
	}
	return boosts, nil
}

// touchAndRecordCoactivation bumps access bookkeeping for every
// returned memory and buffers a coactivation event for the next
// FlushCoactivations pass. Failures here are logged, not propagated:
// a search response should not fail because a side-effect write did.
func (e *Engine) touchAndRecordCoactivation(ctx context.Context, results []Result, tenant metastore.Tenant) {
	if len(results) == 0 {
		return
	}
	now := time.Now()
	ids := make([]int64, 0, len(results))
	ranks := make(map[int64]int, len(results))
	for i, r := range results {
		ids = append(ids, r.Memory.ID)
		ranks[r.Memory.ID] = i + 1
		if err := e.meta.TouchAccess(ctx, r.Memory.ID, 0, now); err != nil {
			e.log.Warn("Search: touch access failed", zap.Int64("memoryId", r.Memory.ID), zap.Error(err))
		}
	}
	if len(ids) < 2 {
		return
	}
	e.coactMu.Lock()
	e.coactBuf = append(e.coactBuf, coactivation{ids: ids, ranks: ranks, tenant: tenant, at: now})
	e.enforceCoactivationBound()
	e.coactMu.Unlock()
}
