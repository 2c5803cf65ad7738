// Package sqlite implements metastore.Store over a local SQLite
// database. Grounded on the teacher's pkg/storage/sqlite/client.go
// connection setup and the scan-row idiom, generalized from one
// flat-embedding table to the memories/waypoints schema the HSG engine
// needs, with every tenant-scoped query routed through
// metastore.Rewrite instead of the teacher's hand-built WHERE clauses.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openmemory/core/pkg/errs"
	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
)

// Client implements metastore.Store using SQLite.
type Client struct {
	db *sql.DB
}

// Config configures a Client.
type Config struct {
	DBPath string
}

// New opens (creating if necessary) a SQLite-backed metastore.Store.
func New(cfg Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("metastore/sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("metastore/sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("metastore/sqlite: ping: %w", err)
	}

	c := &Client{db: db}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// DB exposes the underlying connection so sibling stores (temporal,
// lock) can share the same database file and connection pool.
func (c *Client) DB() *sql.DB {
	return c.db
}

func (c *Client) initTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY,
			user_id TEXT,
			content TEXT NOT NULL,
			primary_sector TEXT NOT NULL,
			sectors TEXT NOT NULL,
			tags TEXT,
			metadata TEXT,
			salience REAL NOT NULL DEFAULT 1.0,
			simhash INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			last_seen_at DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			mean_vec BLOB,
			compressed_vec BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_simhash ON memories(user_id, simhash)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_sector ON memories(user_id, primary_sector)`,
		`CREATE TABLE IF NOT EXISTS waypoints (
			src_id INTEGER NOT NULL,
			dst_id INTEGER NOT NULL,
			weight REAL NOT NULL,
			user_id TEXT,
			created_at DATETIME NOT NULL,
			last_reinforced_at DATETIME NOT NULL,
			PRIMARY KEY (src_id, dst_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_waypoints_dst ON waypoints(dst_id)`,
	}
	for _, stmt := range ddl {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("metastore/sqlite: init: %w", err)
		}
	}
	return nil
}

// InsertMemory inserts a new memory row.
func (c *Client) InsertMemory(ctx context.Context, m *metastore.Memory) error {
	sectorsJSON, err := json.Marshal(m.Sectors)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: marshal sectors: %w", err)
	}
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: marshal metadata: %w", err)
	}

	query := `INSERT INTO memories
		(id, user_id, content, primary_sector, sectors, tags, metadata, salience, simhash, created_at, last_seen_at, access_count, mean_vec, compressed_vec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = c.db.ExecContext(ctx, query,
		m.ID, m.UserID, m.Content, string(m.PrimarySector), string(sectorsJSON), string(tagsJSON), string(metaJSON),
		m.Salience, int64(m.Simhash), m.CreatedAt, m.LastSeenAt, m.AccessCount, m.MeanVec, m.CompressedVec,
	)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: insert memory: %w", err)
	}
	return nil
}

const memoryColumns = `id, user_id, content, primary_sector, sectors, tags, metadata, salience, simhash, created_at, last_seen_at, access_count, mean_vec, compressed_vec`

// GetMemory fetches a memory by id, scoped to tenant.
func (c *Client) GetMemory(ctx context.Context, id int64, tenant metastore.Tenant) (*metastore.Memory, error) {
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE id = ?`, memoryColumns)
	args := []interface{}{id}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	row := c.db.QueryRowContext(ctx, query, args...)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore/sqlite: get memory: %w", err)
	}
	return m, nil
}

// FindBySimhash looks up an existing memory with the same simhash for
// tenant, used by the HSG dedup probe.
func (c *Client) FindBySimhash(ctx context.Context, simhash uint64, tenant metastore.Tenant) (*metastore.Memory, error) {
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE simhash = ?`, memoryColumns)
	args := []interface{}{int64(simhash)}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	row := c.db.QueryRowContext(ctx, query, args...)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore/sqlite: find by simhash: %w", err)
	}
	return m, nil
}

// UpdateMemory overwrites every mutable field of an existing memory
// row.
func (c *Client) UpdateMemory(ctx context.Context, m *metastore.Memory) error {
	sectorsJSON, err := json.Marshal(m.Sectors)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: marshal sectors: %w", err)
	}
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: marshal metadata: %w", err)
	}

	query := `UPDATE memories SET
		content = ?, primary_sector = ?, sectors = ?, tags = ?, metadata = ?,
		salience = ?, simhash = ?, last_seen_at = ?, access_count = ?, mean_vec = ?, compressed_vec = ?
		WHERE id = ?`

	result, err := c.db.ExecContext(ctx, query,
		m.Content, string(m.PrimarySector), string(sectorsJSON), string(tagsJSON), string(metaJSON),
		m.Salience, int64(m.Simhash), m.LastSeenAt, m.AccessCount, m.MeanVec, m.CompressedVec, m.ID,
	)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: update memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("metastore/sqlite: update memory: %w", err)
	}
	if affected == 0 {
		return errs.New("UpdateMemory", errs.KindNotFound, errs.ErrNotFound)
	}
	return nil
}

// DeleteMemory removes a memory row scoped to tenant.
func (c *Client) DeleteMemory(ctx context.Context, id int64, tenant metastore.Tenant) error {
	query := `DELETE FROM memories WHERE id = ?`
	args := []interface{}{id}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: delete memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("metastore/sqlite: delete memory: %w", err)
	}
	if affected == 0 {
		return errs.New("DeleteMemory", errs.KindNotFound, errs.ErrNotFound)
	}
	return nil
}

// GetAllMemories lists memories matching filter.
func (c *Client) GetAllMemories(ctx context.Context, filter metastore.MemoryFilter) ([]*metastore.Memory, error) {
	baseQuery := fmt.Sprintf(`SELECT %s FROM memories`, memoryColumns)
	var args []interface{}

	query, args := metastore.Rewrite(baseQuery, "user_id", filter.Tenant, args)
	hasWhere := strings.Contains(strings.ToUpper(query), " WHERE ")

	if len(filter.Sectors) > 0 {
		placeholders := make([]string, len(filter.Sectors))
		for i, s := range filter.Sectors {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		clause := "primary_sector IN (" + strings.Join(placeholders, ",") + ")"
		if hasWhere {
			query += " AND " + clause
		} else {
			query += " WHERE " + clause
			hasWhere = true
		}
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metastore/sqlite: get all: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*metastore.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if !matchesTagsAndMetadata(m, filter.Tags, filter.Metadata) {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TouchAccess bumps access_count, last_seen_at, and salience
// (clamped to 1) for a reinforcement event.
func (c *Client) TouchAccess(ctx context.Context, id int64, salienceDelta float64, at time.Time) error {
	query := `UPDATE memories SET
		access_count = access_count + 1,
		last_seen_at = ?,
		salience = MIN(1.0, salience + ?)
		WHERE id = ?`
	_, err := c.db.ExecContext(ctx, query, at, salienceDelta, id)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: touch access: %w", err)
	}
	return nil
}

// UpsertWaypoint inserts or replaces the weighted edge (src, dst).
func (c *Client) UpsertWaypoint(ctx context.Context, w *metastore.Waypoint) error {
	query := `INSERT INTO waypoints (src_id, dst_id, weight, user_id, created_at, last_reinforced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(src_id, dst_id) DO UPDATE SET
			weight = excluded.weight,
			last_reinforced_at = excluded.last_reinforced_at`
	_, err := c.db.ExecContext(ctx, query, w.SrcID, w.DstID, w.Weight, w.UserID, w.CreatedAt, w.LastReinforcedAt)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: upsert waypoint: %w", err)
	}
	return nil
}

const waypointColumns = `src_id, dst_id, weight, user_id, created_at, last_reinforced_at`

// GetWaypoint fetches a single edge scoped to tenant.
func (c *Client) GetWaypoint(ctx context.Context, src, dst int64, tenant metastore.Tenant) (*metastore.Waypoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM waypoints WHERE src_id = ? AND dst_id = ?`, waypointColumns)
	args := []interface{}{src, dst}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	row := c.db.QueryRowContext(ctx, query, args...)
	w, err := scanWaypoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore/sqlite: get waypoint: %w", err)
	}
	return w, nil
}

// OutgoingWaypoints lists every edge with src as its source.
func (c *Client) OutgoingWaypoints(ctx context.Context, src int64, tenant metastore.Tenant) ([]*metastore.Waypoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM waypoints WHERE src_id = ?`, waypointColumns)
	args := []interface{}{src}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)
	return c.queryWaypoints(ctx, query, args...)
}

// IncomingWaypoints lists every edge with dst as its destination.
func (c *Client) IncomingWaypoints(ctx context.Context, dst int64, tenant metastore.Tenant) ([]*metastore.Waypoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM waypoints WHERE dst_id = ?`, waypointColumns)
	args := []interface{}{dst}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)
	return c.queryWaypoints(ctx, query, args...)
}

// DeleteWaypointsFor removes every edge touching memoryID, scoped to
// tenant, as either endpoint.
func (c *Client) DeleteWaypointsFor(ctx context.Context, memoryID int64, tenant metastore.Tenant) error {
	query := `DELETE FROM waypoints WHERE (src_id = ? OR dst_id = ?)`
	args := []interface{}{memoryID, memoryID}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	_, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("metastore/sqlite: delete waypoints: %w", err)
	}
	return nil
}

// PruneWaypointsBelow removes every edge whose weight is below
// threshold, returning the count removed.
func (c *Client) PruneWaypointsBelow(ctx context.Context, threshold float64) (int, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM waypoints WHERE weight < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("metastore/sqlite: prune waypoints: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("metastore/sqlite: prune waypoints: %w", err)
	}
	return int(affected), nil
}

// DecaySalience multiplies every memory's salience by
// exp(-lambda[sector] * deltaDays), clamped to [0, 1].
func (c *Client) DecaySalience(ctx context.Context, lambdas map[sector.Sector]float64, deltaDays float64) error {
	for sec, lambda := range lambdas {
		decay := expNeg(lambda * deltaDays)
		query := `UPDATE memories SET salience = MAX(0.0, MIN(1.0, salience * ?)) WHERE primary_sector = ?`
		if _, err := c.db.ExecContext(ctx, query, decay, string(sec)); err != nil {
			return fmt.Errorf("metastore/sqlite: decay salience: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

func expNeg(x float64) float64 {
	return math.Exp(-x)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(s rowScanner) (*metastore.Memory, error) {
	var (
		m             metastore.Memory
		userID        sql.NullString
		sectorsStr    string
		tagsStr       sql.NullString
		metaStr       sql.NullString
		simhash       int64
		primarySector string
	)

	if err := s.Scan(&m.ID, &userID, &m.Content, &primarySector, &sectorsStr, &tagsStr, &metaStr,
		&m.Salience, &simhash, &m.CreatedAt, &m.LastSeenAt, &m.AccessCount, &m.MeanVec, &m.CompressedVec); err != nil {
		return nil, err
	}

	m.PrimarySector = sector.Sector(primarySector)
	m.Simhash = uint64(simhash)
	if userID.Valid {
		v := userID.String
		m.UserID = &v
	}
	if err := json.Unmarshal([]byte(sectorsStr), &m.Sectors); err != nil {
		return nil, fmt.Errorf("metastore/sqlite: unmarshal sectors: %w", err)
	}
	if tagsStr.Valid && tagsStr.String != "" {
		if err := json.Unmarshal([]byte(tagsStr.String), &m.Tags); err != nil {
			return nil, fmt.Errorf("metastore/sqlite: unmarshal tags: %w", err)
		}
	}
	if metaStr.Valid && metaStr.String != "" && metaStr.String != "null" {
		if err := json.Unmarshal([]byte(metaStr.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("metastore/sqlite: unmarshal metadata: %w", err)
		}
	}
	return &m, nil
}

func scanWaypoint(s rowScanner) (*metastore.Waypoint, error) {
	var w metastore.Waypoint
	var userID sql.NullString
	if err := s.Scan(&w.SrcID, &w.DstID, &w.Weight, &userID, &w.CreatedAt, &w.LastReinforcedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		v := userID.String
		w.UserID = &v
	}
	return &w, nil
}

func (c *Client) queryWaypoints(ctx context.Context, query string, args ...interface{}) ([]*metastore.Waypoint, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metastore/sqlite: query waypoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*metastore.Waypoint
	for rows.Next() {
		w, err := scanWaypoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func matchesTagsAndMetadata(m *metastore.Memory, requiredTags []string, requiredMeta map[string]interface{}) bool {
	for _, want := range requiredTags {
		found := false
		for _, got := range m.Tags {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, want := range requiredMeta {
		got, ok := m.Metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
