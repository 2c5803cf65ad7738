package metastore

import (
	"context"
	"time"

	"github.com/openmemory/core/pkg/sector"
)

// Memory is the durable metadata row for one memory. Content is
// stored as an opaque encrypted envelope; HSG handles the
// encrypt/decrypt boundary, not this package.
type Memory struct {
	ID                int64
	UserID            *string
	Content            string // encrypted envelope, "v1:..."
	PrimarySector      sector.Sector
	Sectors            []sector.Weighted
	Tags               []string
	Metadata           map[string]interface{}
	Salience           float64
	Simhash            uint64
	CreatedAt          time.Time
	LastSeenAt         time.Time
	AccessCount        int64
	MeanVec            []byte
	CompressedVec      []byte
}

// Waypoint is a directed weighted edge between two memories owned by
// the same tenant.
type Waypoint struct {
	SrcID            int64
	DstID            int64
	Weight           float64
	UserID           *string
	CreatedAt        time.Time
	LastReinforcedAt time.Time
}

// MemoryFilter narrows GetAll/FindBySimhash-style queries.
type MemoryFilter struct {
	Tenant   Tenant
	Sectors  []sector.Sector
	Tags     []string
	Metadata map[string]interface{}
	Limit    int
	Offset   int
}

// Store is the metadata-store interface the HSG engine is built on:
// durable rows for memories and waypoints. Reads and deletes accept a
// Tenant so isolation is enforced uniformly through Rewrite; inserts
// and updates take the tenant from the row's UserID, and TouchAccess,
// PruneWaypointsBelow and DecaySalience are not tenant-scoped.
type Store interface {
	InsertMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, id int64, tenant Tenant) (*Memory, error)
	FindBySimhash(ctx context.Context, simhash uint64, tenant Tenant) (*Memory, error)
	UpdateMemory(ctx context.Context, m *Memory) error
	DeleteMemory(ctx context.Context, id int64, tenant Tenant) error
	GetAllMemories(ctx context.Context, filter MemoryFilter) ([]*Memory, error)
	TouchAccess(ctx context.Context, id int64, salienceDelta float64, at time.Time) error

	UpsertWaypoint(ctx context.Context, w *Waypoint) error
	GetWaypoint(ctx context.Context, src, dst int64, tenant Tenant) (*Waypoint, error)
	OutgoingWaypoints(ctx context.Context, src int64, tenant Tenant) ([]*Waypoint, error)
	IncomingWaypoints(ctx context.Context, dst int64, tenant Tenant) ([]*Waypoint, error)
	DeleteWaypointsFor(ctx context.Context, memoryID int64, tenant Tenant) error
	PruneWaypointsBelow(ctx context.Context, threshold float64) (int, error)

	DecaySalience(ctx context.Context, lambdas map[sector.Sector]float64, deltaDays float64) error

	Close() error
}
