package hsg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/openmemory/core/pkg/crypto"
	"github.com/openmemory/core/pkg/embedder"
	"github.com/openmemory/core/pkg/errs"
	"github.com/openmemory/core/pkg/fingerprint"
	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
	"github.com/openmemory/core/pkg/vectorstore"
)

// Engine is the HSG memory engine: it owns the classify -> embed ->
// encrypt -> store pipeline for Add, the hybrid retrieval pipeline for
// Search, and the maintenance passes (coactivation flush, salience
// decay, consolidation, orphan-vector pruning) that keep the metadata
// store, vector store, and waypoint graph consistent with each other.
type Engine struct {
	meta     metastore.Store
	vectors  vectorstore.Store
	emb      embedder.Provider
	envelope *crypto.Envelope
	classify *sector.Classifier
	locks    lockManager
	log      *zap.Logger
	ids      *snowflake.Node
	cfg      Config

	coactMu  sync.Mutex
	coactBuf []coactivation
}

// lockManager is the subset of lock.Manager the engine depends on,
// declared locally so this package does not import pkg/lock directly
// (callers wire a concrete backend in).
type lockManager interface {
	Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, token string) error
}

// coactivation is one buffered "these ids were returned together"
// event recorded by Search, consumed by FlushCoactivations.
type coactivation struct {
	ids    []int64
	ranks  map[int64]int
	tenant metastore.Tenant
	at     time.Time
}

// New builds an Engine. snowflakeNodeID identifies this process among
// any others sharing the same metadata store, per the teacher's
// bwmarrin/snowflake usage in pkg/core/memory.go.
func New(meta metastore.Store, vectors vectorstore.Store, emb embedder.Provider, envelope *crypto.Envelope, locks lockManager, log *zap.Logger, snowflakeNodeID int64, cfg Config) (*Engine, error) {
	node, err := snowflake.NewNode(snowflakeNodeID)
	if err != nil {
		return nil, errs.New("New", errs.KindInternal, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		meta:     meta,
		vectors:  vectors,
		emb:      emb,
		envelope: envelope,
		classify: sector.New(),
		locks:    locks,
		log:      log,
		ids:      node,
		cfg:      cfg,
	}, nil
}

func tenantKey(userID *string) string {
	if userID == nil {
		return ""
	}
	return *userID
}

func tenantScope(userID *string) metastore.Tenant {
	if userID == nil {
		return metastore.Null()
	}
	return metastore.Some(*userID)
}

// AddOptions carries the optional parameters to Add.
type AddOptions struct {
	Tags     []string
	Metadata map[string]interface{}
}

// Add classifies, embeds, encrypts, and stores new content, or
// reinforces an existing near-duplicate memory instead of creating a
// new one. Implements spec.md §4.3's Add algorithm.
func (e *Engine) Add(ctx context.Context, content string, userID *string, opts AddOptions) (*metastore.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	classification := e.classify.Classify(content)
	fp := fingerprint.Compute(content)
	tenant := tenantScope(userID)

	// Dedup probe: an existing memory with the same simhash for this
	// tenant is reinforced in place rather than duplicated.
	existing, err := e.meta.FindBySimhash(ctx, uint64(fp), tenant)
	if err != nil {
		return nil, errs.New("Add", errs.KindInternal, err)
	}
	if existing != nil {
		if err := e.meta.TouchAccess(ctx, existing.ID, e.cfg.DuplicateBoost, time.Now()); err != nil {
			return nil, errs.New("Add", errs.KindInternal, err)
		}
		return e.meta.GetMemory(ctx, existing.ID, tenant)
	}

	// Embed once per sector in the classification, L2-normalized by
	// the embedder implementation.
	vecs := make(map[sector.Sector][]float64, len(classification.Sectors))
	for _, w := range classification.Sectors {
		vec, err := e.emb.Embed(ctx, content)
		if err != nil {
			return nil, errs.New("Add", errs.KindUnavailable, err)
		}
		vecs[w.Sector] = vec
	}

	sealed, err := e.envelope.Seal(tenantKey(userID), []byte(content))
	if err != nil {
		return nil, errs.New("Add", errs.KindSecurity, err)
	}

	now := time.Now()
	mem := &metastore.Memory{
		ID:            e.ids.Generate().Int64(),
		UserID:        userID,
		Content:       sealed,
		PrimarySector: classification.PrimarySector,
		Sectors:       classification.Sectors,
		Tags:          opts.Tags,
		Metadata:      opts.Metadata,
		Salience:      1.0,
		Simhash:       uint64(fp),
		CreatedAt:     now,
		LastSeenAt:    now,
		AccessCount:   0,
		MeanVec:       vectorstore.PackVector(meanVector(vecs)),
	}

	// Metadata-first, vectors-second; a vector-store failure triggers a
	// compensating delete of the metadata row, per spec.md §4.3 step 5.
	if err := e.meta.InsertMemory(ctx, mem); err != nil {
		return nil, errs.New("Add", errs.KindInternal, err)
	}
	for sec, vec := range vecs {
		if err := e.vectors.StoreVector(ctx, mem.ID, sec, vec, userID, opts.Metadata); err != nil {
			if delErr := e.meta.DeleteMemory(ctx, mem.ID, tenant); delErr != nil {
				e.log.Error("Add: compensating delete failed after vector store error",
					zap.Int64("memoryId", mem.ID), zap.Error(delErr), zap.Error(err))
			}
			return nil, errs.New("Add", errs.KindInternal, err)
		}
	}

	e.log.Debug("memory added", zap.Int64("memoryId", mem.ID), zap.String("primarySector", string(mem.PrimarySector)))
	return mem, nil
}

func meanVector(vecs map[sector.Sector][]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	var dim int
	for _, v := range vecs {
		dim = len(v)
		break
	}
	mean := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			mean[i] += v[i]
		}
	}
	n := float64(len(vecs))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

// Update re-classifies and re-embeds content for an existing memory,
// reconciling the vector store's sector set and recomputing the
// fingerprint. Implements spec.md §4.3's Update algorithm, adopting
// the stricter reconciliation behavior documented in DESIGN.md: sectors
// no longer present after reclassification have their vectors deleted,
// not merely left stale.
func (e *Engine) Update(ctx context.Context, id int64, content string, userID *string) (*metastore.Memory, error) {
	tenant := tenantScope(userID)

	existing, err := e.meta.GetMemory(ctx, id, tenant)
	if err != nil {
		return nil, errs.New("Update", errs.KindInternal, err)
	}
	if existing == nil {
		return nil, errs.New("Update", errs.KindNotFound, errs.ErrNotFound)
	}

	newFP := fingerprint.Compute(content)
	if uint64(newFP) != existing.Simhash {
		collision, err := e.meta.FindBySimhash(ctx, uint64(newFP), tenant)
		if err != nil {
			return nil, errs.New("Update", errs.KindInternal, err)
		}
		if collision != nil && collision.ID != id {
			return nil, errs.New("Update", errs.KindConflict, errs.ErrFingerprintCollide)
		}
	}

	classification := e.classify.Classify(content)
	oldSectors := make(map[sector.Sector]bool, len(existing.Sectors))
	for _, w := range existing.Sectors {
		oldSectors[w.Sector] = true
	}
	newSectors := make(map[sector.Sector]bool, len(classification.Sectors))
	for _, w := range classification.Sectors {
		newSectors[w.Sector] = true
	}

	vecs := make(map[sector.Sector][]float64, len(classification.Sectors))
	for _, w := range classification.Sectors {
		vec, err := e.emb.Embed(ctx, content)
		if err != nil {
			return nil, errs.New("Update", errs.KindUnavailable, err)
		}
		vecs[w.Sector] = vec
	}

	sealed, err := e.envelope.Seal(tenantKey(userID), []byte(content))
	if err != nil {
		return nil, errs.New("Update", errs.KindSecurity, err)
	}

	existing.Content = sealed
	existing.PrimarySector = classification.PrimarySector
	existing.Sectors = classification.Sectors
	existing.Simhash = uint64(newFP)
	existing.LastSeenAt = time.Now()
	existing.MeanVec = vectorstore.PackVector(meanVector(vecs))

	if err := e.meta.UpdateMemory(ctx, existing); err != nil {
		return nil, errs.New("Update", errs.KindInternal, err)
	}

	for sec, vec := range vecs {
		if err := e.vectors.StoreVector(ctx, id, sec, vec, userID, existing.Metadata); err != nil {
			return nil, errs.New("Update", errs.KindInternal, err)
		}
	}
	// Reconcile: delete vectors for sectors that are no longer present.
	var stale []sector.Sector
	for sec := range oldSectors {
		if !newSectors[sec] {
			stale = append(stale, sec)
		}
	}
	if len(stale) > 0 {
		for _, sec := range stale {
			if err := e.deleteOneSectorVector(ctx, id, sec, tenant); err != nil {
				return nil, errs.New("Update", errs.KindInternal, err)
			}
		}
	}

	return existing, nil
}

func (e *Engine) deleteOneSectorVector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) error {
	return e.vectors.DeleteVectorSector(ctx, id, sec, tenant)
}

// Delete removes a memory's metadata row, every per-sector vector, and
// every waypoint touching it, per spec.md §4.3's Delete algorithm.
func (e *Engine) Delete(ctx context.Context, id int64, userID *string) error {
	tenant := tenantScope(userID)

	if err := e.meta.DeleteWaypointsFor(ctx, id, tenant); err != nil {
		return errs.New("Delete", errs.KindInternal, err)
	}
	if err := e.vectors.DeleteVectors(ctx, []int64{id}, tenant); err != nil {
		return errs.New("Delete", errs.KindInternal, err)
	}
	if err := e.meta.DeleteMemory(ctx, id, tenant); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Get fetches and decrypts a memory's content.
func (e *Engine) Get(ctx context.Context, id int64, userID *string) (*metastore.Memory, string, error) {
	tenant := tenantScope(userID)
	mem, err := e.meta.GetMemory(ctx, id, tenant)
	if err != nil {
		return nil, "", errs.New("Get", errs.KindInternal, err)
	}
	if mem == nil {
		return nil, "", errs.New("Get", errs.KindNotFound, errs.ErrNotFound)
	}
	plaintext, err := e.envelope.Open(tenantKey(userID), mem.Content)
	if err != nil {
		return nil, "", errs.New("Get", errs.KindSecurity, err)
	}
	return mem, string(plaintext), nil
}
