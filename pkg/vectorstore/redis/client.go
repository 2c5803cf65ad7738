// Package redis implements vectorstore.Store against a Redis (or
// Redis-API-compatible) server, storing packed vectors in hashes keyed
// by sector/tenant/memory id and scoring similarity with a SCAN +
// in-process pass, since no OSS vector-search module is reachable
// through a pure-Go client in this corpus.
//
// Grounded on github.com/redis/go-redis/v9, the remote-store
// dependency the retrieval pack pairs with memory/agent systems
// (hieuntg81-alfred-ai's go.mod); the teacher itself has no remote
// vector backend, so this package follows the teacher's sqlite
// client's method shapes while using Redis idioms (HSET/HGETALL,
// SCAN cursors) for the storage layer itself.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
	"github.com/openmemory/core/pkg/vectorstore"
)

// Client implements vectorstore.Store over a Redis connection.
type Client struct {
	rdb       *goredis.Client
	keyPrefix string
}

// Config configures a Client.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "om:vec"
}

// New connects to Redis and returns a vectorstore.Store.
func New(cfg Config) (*Client, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "om:vec"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("vectorstore/redis: ping: %w", err)
	}
	return &Client{rdb: rdb, keyPrefix: prefix}, nil
}

// key builds the hash key for a (sector, memory id) pair. Tenant is
// stored as a hash field rather than part of the key, since a single
// memory id is globally unique and the tenant check happens on read.
func (c *Client) key(sec sector.Sector, id int64) string {
	return fmt.Sprintf("%s:%s:%d", c.keyPrefix, sec, id)
}

// idsSetKey is a per-sector set of every memory id with a vector,
// maintained alongside the hashes so IterateVectorIds/GetAllVectorIds
// don't require a full keyspace SCAN.
func (c *Client) idsSetKey(sec sector.Sector) string {
	return fmt.Sprintf("%s:ids:%s", c.keyPrefix, sec)
}

const fieldVector = "vector"
const fieldUserID = "user_id"
const fieldMetadata = "metadata"

// StoreVector upserts the vector for (id, sector).
func (c *Client) StoreVector(ctx context.Context, id int64, sec sector.Sector, vec []float64, userID *string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("vectorstore/redis: marshal metadata: %w", err)
	}

	fields := map[string]interface{}{
		fieldVector:   vectorstore.PackVector(vec),
		fieldMetadata: string(metaJSON),
	}
	if userID != nil {
		fields[fieldUserID] = *userID
	} else {
		fields[fieldUserID] = ""
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(sec, id), fields)
	pipe.SAdd(ctx, c.idsSetKey(sec), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("vectorstore/redis: store: %w", err)
	}
	return nil
}

func (c *Client) loadRecord(ctx context.Context, id int64, sec sector.Sector) (*vectorstore.Record, error) {
	vals, err := c.rdb.HGetAll(ctx, c.key(sec, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	vec, err := vectorstore.UnpackVector([]byte(vals[fieldVector]))
	if err != nil {
		return nil, err
	}

	rec := &vectorstore.Record{MemoryID: id, Sector: sec, Vector: vec}
	if u := vals[fieldUserID]; u != "" {
		rec.UserID = &u
	}
	if m := vals[fieldMetadata]; m != "" && m != "null" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(m), &meta); err != nil {
			return nil, fmt.Errorf("vectorstore/redis: unmarshal metadata: %w", err)
		}
		rec.Metadata = meta
	}
	return rec, nil
}

func tenantAllows(tenant metastore.Tenant, userID *string) bool {
	if tenant.IsAny() {
		return true
	}
	id, isSome := tenant.ID()
	if isSome {
		return userID != nil && *userID == id
	}
	// Null tenant: match system rows only.
	return userID == nil
}

// GetVector fetches the vector for (id, sector) scoped to tenant.
func (c *Client) GetVector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) (*vectorstore.Record, error) {
	rec, err := c.loadRecord(ctx, id, sec)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/redis: get: %w", err)
	}
	if rec == nil || !tenantAllows(tenant, rec.UserID) {
		return nil, nil
	}
	return rec, nil
}

// GetVectorsByIds fetches every sector's vector for each id in ids.
func (c *Client) GetVectorsByIds(ctx context.Context, ids []int64, tenant metastore.Tenant) ([]*vectorstore.Record, error) {
	if len(ids) > vectorstore.MaxBatchIDs {
		return nil, vectorstore.ErrTooManyIDs
	}

	var out []*vectorstore.Record
	for _, id := range ids {
		for _, sec := range sector.All {
			rec, err := c.loadRecord(ctx, id, sec)
			if err != nil {
				return nil, fmt.Errorf("vectorstore/redis: get by ids: %w", err)
			}
			if rec == nil || !tenantAllows(tenant, rec.UserID) {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// SearchSimilar scans every id in sec's id set, loads its vector, and
// scores it in process.
func (c *Client) SearchSimilar(ctx context.Context, sec sector.Sector, queryVec []float64, opts vectorstore.SearchOptions) ([]vectorstore.Scored, error) {
	ids, err := c.rdb.SMembers(ctx, c.idsSetKey(sec)).Result()
	if err != nil {
		return nil, fmt.Errorf("vectorstore/redis: search: %w", err)
	}

	var scored []vectorstore.Scored
	for _, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		rec, err := c.loadRecord(ctx, id, sec)
		if err != nil {
			return nil, err
		}
		if rec == nil || !tenantAllows(opts.Tenant, rec.UserID) {
			continue
		}
		if !matchesFilters(rec.Metadata, opts.Filters) {
			continue
		}
		score := vectorstore.CosineSimilarity(queryVec, rec.Vector)
		scored = append(scored, vectorstore.Scored{MemoryID: rec.MemoryID, Sector: sec, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].MemoryID < scored[j].MemoryID
	})

	if opts.K > 0 && len(scored) > opts.K {
		scored = scored[:opts.K]
	}
	return scored, nil
}

// DeleteVectors removes every sector's vector for each id in ids.
func (c *Client) DeleteVectors(ctx context.Context, ids []int64, tenant metastore.Tenant) error {
	pipe := c.rdb.TxPipeline()
	for _, id := range ids {
		for _, sec := range sector.All {
			rec, err := c.loadRecord(ctx, id, sec)
			if err != nil {
				return err
			}
			if rec == nil || !tenantAllows(tenant, rec.UserID) {
				continue
			}
			pipe.Del(ctx, c.key(sec, id))
			pipe.SRem(ctx, c.idsSetKey(sec), id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("vectorstore/redis: delete: %w", err)
	}
	return nil
}

// DeleteVectorSector removes the vector for (id, sec) only.
func (c *Client) DeleteVectorSector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) error {
	rec, err := c.loadRecord(ctx, id, sec)
	if err != nil {
		return fmt.Errorf("vectorstore/redis: delete sector: %w", err)
	}
	if rec == nil || !tenantAllows(tenant, rec.UserID) {
		return nil
	}
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.key(sec, id))
	pipe.SRem(ctx, c.idsSetKey(sec), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("vectorstore/redis: delete sector: %w", err)
	}
	return nil
}

// IterateVectorIds streams every distinct memory id with at least one
// vector row, scoped to tenant, across all sectors.
func (c *Client) IterateVectorIds(ctx context.Context, tenant metastore.Tenant, fn func(id int64) error) error {
	seen := map[int64]bool{}
	for _, sec := range sector.All {
		ids, err := c.rdb.SMembers(ctx, c.idsSetKey(sec)).Result()
		if err != nil {
			return fmt.Errorf("vectorstore/redis: iterate: %w", err)
		}
		for _, idStr := range ids {
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil || seen[id] {
				continue
			}
			rec, err := c.loadRecord(ctx, id, sec)
			if err != nil {
				return err
			}
			if rec == nil || !tenantAllows(tenant, rec.UserID) {
				continue
			}
			seen[id] = true
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetAllVectorIds returns every distinct memory id scoped to tenant,
// erroring if the result would exceed cap.
func (c *Client) GetAllVectorIds(ctx context.Context, tenant metastore.Tenant, capN int) ([]int64, error) {
	var ids []int64
	err := c.IterateVectorIds(ctx, tenant, func(id int64) error {
		if capN > 0 && len(ids) >= capN {
			return vectorstore.ErrTooLarge
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func matchesFilters(metadata map[string]interface{}, filters map[string]interface{}) bool {
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
