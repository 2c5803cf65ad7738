package hsg

import (
	"context"

	"go.uber.org/zap"

	"github.com/openmemory/core/pkg/errs"
	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
)

// PruneOrphanVectors walks every vector id for a tenant and deletes
// any whose owning memory no longer exists in the metadata store —
// the cleanup pass spec.md §4.8 requires for the rare case a
// compensating delete in Add/Update/Delete itself failed partway.
// Grounded on the teacher's pkg/intelligence/dedup.go search-then-act
// style: read first, act only on what's confirmed orphaned.
func (e *Engine) PruneOrphanVectors(ctx context.Context, userID *string) (int, error) {
	tenant := tenantScope(userID)
	pruned := 0

	var orphans []int64
	err := e.vectors.IterateVectorIds(ctx, tenant, func(id int64) error {
		mem, err := e.meta.GetMemory(ctx, id, tenant)
		if err != nil {
			return err
		}
		if mem == nil {
			orphans = append(orphans, id)
		}
		return nil
	})
	if err != nil {
		return 0, errs.New("PruneOrphanVectors", errs.KindInternal, err)
	}

	for _, id := range orphans {
		if err := e.vectors.DeleteVectors(ctx, []int64{id}, tenant); err != nil {
			e.log.Warn("PruneOrphanVectors: delete failed", zap.Int64("memoryId", id), zap.Error(err))
			continue
		}
		pruned++
	}
	return pruned, nil
}

// VectorCoverageReport counts, per sector, how many of a tenant's
// memories that claim that sector are missing their vector row.
type VectorCoverageReport struct {
	MissingBySector map[sector.Sector]int
	TotalMemories   int
}

// VerifyVectorCoverage is a read-only check: it never repairs
// anything, it only reports. Callers decide whether a gap warrants
// re-embedding (outside this package's scope).
func (e *Engine) VerifyVectorCoverage(ctx context.Context, userID *string) (*VectorCoverageReport, error) {
	tenant := tenantScope(userID)

	mems, err := e.meta.GetAllMemories(ctx, metastore.MemoryFilter{Tenant: tenant})
	if err != nil {
		return nil, errs.New("VerifyVectorCoverage", errs.KindInternal, err)
	}

	report := &VectorCoverageReport{MissingBySector: map[sector.Sector]int{}, TotalMemories: len(mems)}
	for _, m := range mems {
		for _, w := range m.Sectors {
			rec, err := e.vectors.GetVector(ctx, m.ID, w.Sector, tenant)
			if err != nil {
				return nil, errs.New("VerifyVectorCoverage", errs.KindInternal, err)
			}
			if rec == nil {
				report.MissingBySector[w.Sector]++
			}
		}
	}
	return report, nil
}
