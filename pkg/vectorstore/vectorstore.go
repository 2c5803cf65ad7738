// Package vectorstore defines the sector-partitioned vector KV store
// abstraction and its packed-blob wire format. Concrete backends live
// in subpackages (sqlite, redis, oceanbase).
package vectorstore

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
)

// MaxBatchIDs bounds getVectorsByIds so a single call cannot force a
// backend to materialize an unbounded result set.
const MaxBatchIDs = 5000

// Record is a single {memoryId, sector} -> vector row.
type Record struct {
	MemoryID int64
	Sector   sector.Sector
	Vector   []float64
	Dim      int
	UserID   *string
	Metadata map[string]interface{}
}

// Scored pairs a Record's memory id with its similarity score against
// a query vector.
type Scored struct {
	MemoryID int64
	Sector   sector.Sector
	Score    float64
}

// SearchOptions narrows a searchSimilar call.
type SearchOptions struct {
	Tenant  metastore.Tenant
	K       int
	Filters map[string]interface{}
}

// Store is the sector-partitioned vector KV interface every backend
// implements. Every operation accepts a tenant so isolation is
// enforced at the one place callers cannot bypass it.
type Store interface {
	// StoreVector upserts the vector for (id, sector).
	StoreVector(ctx context.Context, id int64, sec sector.Sector, vec []float64, userID *string, metadata map[string]interface{}) error

	// GetVector fetches the vector for (id, sector) scoped to tenant.
	// Returns (nil, nil) if no such vector exists.
	GetVector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) (*Record, error)

	// GetVectorsByIds fetches every sector's vector for each id in ids.
	// len(ids) must be <= MaxBatchIDs.
	GetVectorsByIds(ctx context.Context, ids []int64, tenant metastore.Tenant) ([]*Record, error)

	// SearchSimilar returns the top-K scored matches for queryVec
	// within sec, tie-broken by ascending memory id on equal scores.
	SearchSimilar(ctx context.Context, sec sector.Sector, queryVec []float64, opts SearchOptions) ([]Scored, error)

	// DeleteVectors removes every sector's vector for each id in ids,
	// scoped to tenant.
	DeleteVectors(ctx context.Context, ids []int64, tenant metastore.Tenant) error

	// DeleteVectorSector removes the vector for (id, sec) only, scoped
	// to tenant, leaving any other sector's vector for id untouched.
	DeleteVectorSector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) error

	// IterateVectorIds streams every distinct memory id with at least
	// one vector row, scoped to tenant, calling fn for each. It never
	// materializes the full id set in memory.
	IterateVectorIds(ctx context.Context, tenant metastore.Tenant, fn func(id int64) error) error

	// GetAllVectorIds returns every distinct memory id with at least
	// one vector row, scoped to tenant. Returns an error if the result
	// would exceed cap.
	GetAllVectorIds(ctx context.Context, tenant metastore.Tenant, cap int) ([]int64, error)

	// Close releases backend resources.
	Close() error
}

// PackVector encodes vec as a length-prefixed sequence of
// little-endian float32 values, per the wire format spec.md §6
// specifies: a 4-byte little-endian uint32 count followed by that
// many 4-byte float32 values.
func PackVector(vec []float64) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], math.Float32bits(float32(v)))
	}
	return buf
}

// UnpackVector decodes a blob produced by PackVector back into a
// []float64.
func UnpackVector(buf []byte) ([]float64, error) {
	if len(buf) < 4 {
		return nil, ErrMalformedBlob
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	want := 4 + 4*int(n)
	if len(buf) != want {
		return nil, ErrMalformedBlob
	}
	out := make([]float64, n)
	for i := range out {
		bits := binary.LittleEndian.Uint32(buf[4+4*i : 8+4*i])
		out[i] = float64(math.Float32frombits(bits))
	}
	return out, nil
}

// CosineSimilarity computes cosine similarity between two vectors of
// equal length; 0 if the lengths differ or either vector is the zero
// vector.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
