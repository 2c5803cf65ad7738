package hsg

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openmemory/core/pkg/errs"
	"github.com/openmemory/core/pkg/metastore"
)

// maxCoactivationBuffer bounds the in-memory coactivation queue; once
// full, the oldest event is dropped to make room for the newest one
// rather than blocking Search.
const maxCoactivationBuffer = 10000

// enforceCoactivationBound drops the oldest buffered events beyond
// maxCoactivationBuffer. Callers hold coactMu: touchAndRecordCoactivation
// in search.go calls it after every append, FlushCoactivations before
// draining.
func (e *Engine) enforceCoactivationBound() {
	if len(e.coactBuf) > maxCoactivationBuffer {
		overflow := len(e.coactBuf) - maxCoactivationBuffer
		e.coactBuf = e.coactBuf[overflow:]
	}
}

// FlushCoactivations drains the buffered coactivation events,
// reinforcing a waypoint between every pair of memories that appeared
// together in a search result set. Activation for a pair is the
// product of each memory's inverse rank within its result set; weight
// growth is w <- min(1, w + eta*activation). Waypoints below
// Config.WaypointPruneThreshold are removed in the same pass, per
// spec.md §4.3's coactivation & waypoint reinforcement paragraph.
func (e *Engine) FlushCoactivations(ctx context.Context) error {
	e.coactMu.Lock()
	e.enforceCoactivationBound()
	batch := e.coactBuf
	e.coactBuf = nil
	e.coactMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	// Accumulate total activation per (src,dst) pair across the whole
	// batch before touching the store, so repeated coactivations in the
	// same flush reinforce once instead of racing read-modify-write.
	type pairKey struct {
		src, dst int64
		tenant   string
	}
	activation := make(map[pairKey]float64)
	tenants := make(map[string]metastore.Tenant)

	for _, ev := range batch {
		tkey := tenantString(ev.tenant)
		tenants[tkey] = ev.tenant
		for i, a := range ev.ids {
			for j, b := range ev.ids {
				if j <= i {
					continue
				}
				invRankA := 1.0 / float64(ev.ranks[a])
				invRankB := 1.0 / float64(ev.ranks[b])
				act := invRankA * invRankB
				src, dst := a, b
				if src > dst {
					src, dst = dst, src
				}
				activation[pairKey{src: src, dst: dst, tenant: tkey}] += act
			}
		}
	}

	now := time.Now()
	for key, act := range activation {
		tenant := tenants[key.tenant]
		existing, err := e.meta.GetWaypoint(ctx, key.src, key.dst, tenant)
		if err != nil {
			return errs.New("FlushCoactivations", errs.KindInternal, err)
		}
		weight := e.cfg.ReinforcementFactor * act
		var userID *string
		if existing != nil {
			weight = existing.Weight + e.cfg.ReinforcementFactor*act
			userID = existing.UserID
		} else if key.tenant != "" {
			u := key.tenant
			userID = &u
		}
		if weight > 1 {
			weight = 1
		}

		createdAt := now
		if existing != nil {
			createdAt = existing.CreatedAt
		}
		w := &metastore.Waypoint{
			SrcID:            key.src,
			DstID:            key.dst,
			Weight:           weight,
			UserID:           userID,
			CreatedAt:        createdAt,
			LastReinforcedAt: now,
		}
		if err := e.meta.UpsertWaypoint(ctx, w); err != nil {
			return errs.New("FlushCoactivations", errs.KindInternal, err)
		}
	}

	pruned, err := e.meta.PruneWaypointsBelow(ctx, e.cfg.WaypointPruneThreshold)
	if err != nil {
		return errs.New("FlushCoactivations", errs.KindInternal, err)
	}
	if pruned > 0 {
		e.log.Debug("pruned weak waypoints", zap.Int("count", pruned))
	}
	return nil
}

func tenantString(t metastore.Tenant) string {
	if id, ok := t.ID(); ok {
		return id
	}
	return ""
}
