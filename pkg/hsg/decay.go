package hsg

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openmemory/core/pkg/errs"
	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
	"github.com/openmemory/core/pkg/vectorstore"
)

// consolidationLockTTL bounds how long a single consolidation pass may
// hold its distributed lock before another process is allowed to take
// over, in case the holder crashes mid-pass.
const consolidationLockTTL = 2 * time.Minute

// DecaySalience applies Ebbinghaus-style exponential decay to every
// memory's salience, per sector lambda, for the elapsed wall-clock
// interval since the last decay pass. Mirrors the teacher's
// pkg/intelligence/ebbinghaus.go formula, generalized to a per-sector
// lambda table instead of one global rate.
func (e *Engine) DecaySalience(ctx context.Context, since time.Time) error {
	deltaDays := time.Since(since).Hours() / 24
	if deltaDays <= 0 {
		return nil
	}
	lambdas := make(map[sector.Sector]float64, len(sector.All))
	for _, s := range sector.All {
		lambdas[s] = e.cfg.sectorConfig(s).Lambda
	}
	if err := e.meta.DecaySalience(ctx, lambdas, deltaDays); err != nil {
		return errs.New("DecaySalience", errs.KindInternal, err)
	}
	return nil
}

// Consolidate runs one reflective-consolidation pass for a tenant: it
// finds memories whose salience has fallen below
// Config.DecayColdThreshold and which have no inbound waypoint (i.e.
// nothing else in the graph still references them), clusters them
// within each sector by mean-vector cosine similarity at or above
// Config.ReflectClusteringThreshold, and replaces each cluster with a
// single summary memory. The summary is stored through Add, tagged
// "consolidated" plus the cluster's sector, and classified like any
// other content; it is not placed in the Slow sector. Each original's
// outgoing waypoints are re-created with the summary as their source;
// the originals are then deleted. Returns the number of originals
// consolidated. Runs under a per-tenant distributed
// lock so two maintenance workers never consolidate the same tenant
// concurrently.
func (e *Engine) Consolidate(ctx context.Context, userID *string) (int, error) {
	tenant := tenantScope(userID)
	lockName := "consolidate:" + tenantKey(userID)
	token, err := randomToken()
	if err != nil {
		return 0, errs.New("Consolidate", errs.KindInternal, err)
	}

	acquired, err := e.locks.Acquire(ctx, lockName, token, consolidationLockTTL)
	if err != nil {
		return 0, errs.New("Consolidate", errs.KindInternal, err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := e.locks.Release(ctx, lockName, token); err != nil {
			e.log.Warn("Consolidate: lock release failed", zap.String("lock", lockName), zap.Error(err))
		}
	}()

	consolidated := 0
	for _, sec := range sector.All {
		if sec == sector.Slow {
			continue // memories whose primary sector is Slow are never consolidated
		}
		n, err := e.consolidateSector(ctx, userID, tenant, sec)
		if err != nil {
			return consolidated, err
		}
		consolidated += n
	}
	return consolidated, nil
}

func (e *Engine) consolidateSector(ctx context.Context, userID *string, tenant metastore.Tenant, sec sector.Sector) (int, error) {
	all, err := e.meta.GetAllMemories(ctx, metastore.MemoryFilter{Tenant: tenant, Sectors: []sector.Sector{sec}})
	if err != nil {
		return 0, errs.New("Consolidate", errs.KindInternal, err)
	}

	var cold []*metastore.Memory
	for _, m := range all {
		if m.Salience >= e.cfg.DecayColdThreshold {
			continue
		}
		in, err := e.meta.IncomingWaypoints(ctx, m.ID, tenant)
		if err != nil {
			return 0, errs.New("Consolidate", errs.KindInternal, err)
		}
		if len(in) == 0 {
			cold = append(cold, m)
		}
	}
	if len(cold) < 2 {
		return 0, nil
	}

	clusters := clusterByMeanVec(cold, e.cfg.ReflectClusteringThreshold)

	summarized := 0
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		if err := e.summarizeCluster(ctx, userID, tenant, sec, cluster); err != nil {
			return summarized, err
		}
		summarized += len(cluster)
	}
	return summarized, nil
}

// clusterByMeanVec greedily groups memories whose unpacked MeanVec is
// within threshold cosine similarity of a cluster's first (seed)
// member. Simple and order-dependent, matching the teacher's
// similarly greedy dedup.go approach rather than a full hierarchical
// clustering algorithm.
func clusterByMeanVec(mems []*metastore.Memory, threshold float64) [][]*metastore.Memory {
	type entry struct {
		mem *metastore.Memory
		vec []float64
	}
	entries := make([]entry, 0, len(mems))
	for _, m := range mems {
		vec, err := vectorstore.UnpackVector(m.MeanVec)
		if err != nil || len(vec) == 0 {
			continue
		}
		entries = append(entries, entry{mem: m, vec: vec})
	}

	used := make([]bool, len(entries))
	var clusters [][]*metastore.Memory
	for i := range entries {
		if used[i] {
			continue
		}
		cluster := []*metastore.Memory{entries[i].mem}
		used[i] = true
		for j := i + 1; j < len(entries); j++ {
			if used[j] {
				continue
			}
			if vectorstore.CosineSimilarity(entries[i].vec, entries[j].vec) >= threshold {
				cluster = append(cluster, entries[j].mem)
				used[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// summarizeCluster merges a cluster of cold memories into a single
// new memory added through Add (so it is classified from its own
// text), re-creates each original's outgoing waypoints with the
// summary as source, and deletes the originals.
func (e *Engine) summarizeCluster(ctx context.Context, userID *string, tenant metastore.Tenant, sec sector.Sector, cluster []*metastore.Memory) error {
	var essence string
	for _, m := range cluster {
		plaintext, err := e.envelope.Open(tenantKey(userID), m.Content)
		if err != nil {
			continue
		}
		if len(essence)+len(plaintext)+1 > e.cfg.IngestSectionSize {
			break
		}
		if essence != "" {
			essence += "\n"
		}
		essence += string(plaintext)
	}
	if essence == "" {
		return nil
	}

	summary, err := e.Add(ctx, essence, userID, AddOptions{
		Tags:     []string{"consolidated", string(sec)},
		Metadata: map[string]interface{}{"consolidatedFrom": idsOf(cluster)},
	})
	if err != nil {
		return errs.New("summarizeCluster", errs.KindInternal, err)
	}

	for _, m := range cluster {
		outgoing, err := e.meta.OutgoingWaypoints(ctx, m.ID, tenant)
		if err != nil {
			return errs.New("summarizeCluster", errs.KindInternal, err)
		}
		for _, w := range outgoing {
			if w.DstID == summary.ID {
				continue
			}
			rewired := &metastore.Waypoint{
				SrcID:            summary.ID,
				DstID:            w.DstID,
				Weight:           w.Weight,
				UserID:           w.UserID,
				CreatedAt:        w.CreatedAt,
				LastReinforcedAt: time.Now(),
			}
			if err := e.meta.UpsertWaypoint(ctx, rewired); err != nil {
				return errs.New("summarizeCluster", errs.KindInternal, err)
			}
		}
		if err := e.Delete(ctx, m.ID, userID); err != nil {
			return errs.New("summarizeCluster", errs.KindInternal, err)
		}
	}
	return nil
}

func idsOf(mems []*metastore.Memory) []int64 {
	ids := make([]int64, len(mems))
	for i, m := range mems {
		ids[i] = m.ID
	}
	return ids
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("randomToken: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
