// Package client is the published façade over the HSG memory engine
// and the bitemporal fact store: Add/Get/Update/Delete/Search plus
// Compare/Timeline over facts, and a thin IDE-context projection.
// Grounded on the teacher's pkg/core/memory.go Client (the single
// entry point wrapping every lower-level concern, exposed as simple
// verb methods) and pkg/user_memory/client.go (the profile-projection
// pattern the Ide operations generalize).
package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openmemory/core/pkg/crypto"
	"github.com/openmemory/core/pkg/embedder"
	"github.com/openmemory/core/pkg/hsg"
	"github.com/openmemory/core/pkg/lock"
	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/scheduler"
	"github.com/openmemory/core/pkg/temporal"
	"github.com/openmemory/core/pkg/vectorstore"
)

// Client is the single entry point embedding applications use to
// interact with OpenMemory: it owns the HSG engine, the temporal fact
// store, and the maintenance scheduler.
type Client struct {
	engine   *hsg.Engine
	temporal *temporal.Store
	sched    *scheduler.Scheduler
	log      *zap.Logger
}

// Deps carries every already-constructed backend Client needs. Wiring
// concrete backends (which sqlite/postgres/redis/oceanbase client to
// use) is the caller's responsibility, driven by pkg/config.
type Deps struct {
	Meta     metastore.Store
	Vectors  vectorstore.Store
	Temporal *temporal.Store
	Embedder embedder.Provider
	Envelope *crypto.Envelope
	Locks    lock.Manager
	Log      *zap.Logger
	NodeID   int64
	HSGCfg   hsg.Config
}

// New builds a Client from already-constructed backends.
func New(deps Deps) (*Client, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	engine, err := hsg.New(deps.Meta, deps.Vectors, deps.Embedder, deps.Envelope, deps.Locks, log, deps.NodeID, deps.HSGCfg)
	if err != nil {
		return nil, err
	}
	return &Client{engine: engine, temporal: deps.Temporal, log: log}, nil
}

// ScheduleIntervals sets how often each standard maintenance job runs
// when passed to WithScheduler.
type ScheduleIntervals struct {
	Decay              time.Duration
	FlushCoactivations time.Duration
	Consolidate        time.Duration
	OrphanPrune        time.Duration
}

// DefaultScheduleIntervals mirror spec.md's documented maintenance
// cadence: frequent coactivation flushes, daily decay and orphan
// sweeps, weekly consolidation.
func DefaultScheduleIntervals() ScheduleIntervals {
	return ScheduleIntervals{
		Decay:              24 * time.Hour,
		FlushCoactivations: time.Minute,
		Consolidate:        7 * 24 * time.Hour,
		OrphanPrune:        24 * time.Hour,
	}
}

// WithScheduler registers the four standard maintenance jobs (decay,
// coactivation flush, consolidate, orphan prune) on sched and retains
// it so Close can stop it. Callers that don't want background
// maintenance simply never call this.
func (c *Client) WithScheduler(sched *scheduler.Scheduler, intervals ScheduleIntervals) error {
	c.sched = sched
	lastDecay := time.Now()

	if err := sched.Register("decay-salience", intervals.Decay, func(ctx context.Context) error {
		since := lastDecay
		lastDecay = time.Now()
		return c.engine.DecaySalience(ctx, since)
	}); err != nil {
		return err
	}
	if err := sched.Register("flush-coactivations", intervals.FlushCoactivations, func(ctx context.Context) error {
		return c.engine.FlushCoactivations(ctx)
	}); err != nil {
		return err
	}
	if err := sched.Register("consolidate", intervals.Consolidate, func(ctx context.Context) error {
		_, err := c.engine.Consolidate(ctx, nil)
		return err
	}); err != nil {
		return err
	}
	if err := sched.Register("prune-orphan-vectors", intervals.OrphanPrune, func(ctx context.Context) error {
		_, err := c.engine.PruneOrphanVectors(ctx, nil)
		return err
	}); err != nil {
		return err
	}
	return nil
}

// Add stores new content for userID (nil for a system-owned memory).
func (c *Client) Add(ctx context.Context, content string, userID *string, tags []string, metadata map[string]interface{}) (*metastore.Memory, error) {
	return c.engine.Add(ctx, content, userID, hsg.AddOptions{Tags: tags, Metadata: metadata})
}

// Get fetches and decrypts a memory by id.
func (c *Client) Get(ctx context.Context, id int64, userID *string) (*metastore.Memory, string, error) {
	return c.engine.Get(ctx, id, userID)
}

// Update replaces a memory's content, reclassifying and re-embedding it.
func (c *Client) Update(ctx context.Context, id int64, content string, userID *string) (*metastore.Memory, error) {
	return c.engine.Update(ctx, id, content, userID)
}

// Delete removes a memory and everything that references it.
func (c *Client) Delete(ctx context.Context, id int64, userID *string) error {
	return c.engine.Delete(ctx, id, userID)
}

// Search performs hybrid retrieval across the requested sectors.
func (c *Client) Search(ctx context.Context, query string, userID *string, opts hsg.SearchOptions) ([]hsg.Result, error) {
	return c.engine.Search(ctx, query, userID, opts)
}

// Compare diffs a subject's known facts between two points in time.
func (c *Client) Compare(ctx context.Context, subject string, t1, t2 time.Time, userID *string) (*temporal.Diff, error) {
	return c.temporal.CompareTimePoints(ctx, subject, t1, t2, userID)
}

// Timeline returns every version of a subject's facts active at any
// point within [from, to].
func (c *Client) Timeline(ctx context.Context, subject string, from, to time.Time, userID *string) ([]temporal.Fact, error) {
	return c.temporal.QueryFactsInRange(ctx, subject, from, to, userID)
}

// Close stops the maintenance scheduler, if one was registered.
// Releasing the underlying backend connections is the caller's
// responsibility (the Client does not own them, Deps does).
func (c *Client) Close() error {
	if c.sched != nil {
		c.sched.StopAllMaintenance(10 * time.Second)
	}
	return nil
}
