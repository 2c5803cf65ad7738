// Package oceanbase implements vectorstore.Store over OceanBase's
// MySQL-compatible wire protocol, using its native VECTOR column type
// and cosine_distance function for similarity search. Grounded on the
// teacher's pkg/storage/oceanbase/client.go (table DDL, cosine_distance
// ORDER BY query, scanMemories distance-to-score conversion), adapted
// from one flat embedding-per-memory table to the sector-partitioned
// {memoryID, sector} -> vector schema vectorstore.Store requires.
package oceanbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
	"github.com/openmemory/core/pkg/vectorstore"
)

// Client implements vectorstore.Store using OceanBase.
type Client struct {
	db    *sql.DB
	table string
	dims  int
}

// Config configures a Client.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Table    string
	Dims     int
}

// New opens an OceanBase-backed vectorstore.Store.
func New(cfg Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/oceanbase: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("vectorstore/oceanbase: ping: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "vector_records"
	}

	c := &Client{db: db, table: table, dims: cfg.Dims}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		memory_id BIGINT NOT NULL,
		sector VARCHAR(32) NOT NULL,
		embedding VECTOR(%d),
		user_id VARCHAR(128),
		metadata JSON,
		PRIMARY KEY (memory_id, sector),
		INDEX idx_user_sector (user_id, sector)
	)`, c.table, c.dims)
	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("vectorstore/oceanbase: init: %w", err)
	}
	return nil
}

func vecToString(vec []float64) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVecString(s string) ([]float64, error) {
	s = strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &out[i]); err != nil {
			return nil, fmt.Errorf("vectorstore/oceanbase: parse vector: %w", err)
		}
	}
	return out, nil
}

// StoreVector upserts the embedding for (id, sec).
func (c *Client) StoreVector(ctx context.Context, id int64, sec sector.Sector, vec []float64, userID *string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("vectorstore/oceanbase: marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (memory_id, sector, embedding, user_id, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE embedding = VALUES(embedding), user_id = VALUES(user_id), metadata = VALUES(metadata)`, c.table)
	_, err = c.db.ExecContext(ctx, query, id, string(sec), vecToString(vec), userID, string(metaJSON))
	if err != nil {
		return fmt.Errorf("vectorstore/oceanbase: store vector: %w", err)
	}
	return nil
}

// GetVector fetches the embedding for (id, sec), scoped to tenant.
func (c *Client) GetVector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) (*vectorstore.Record, error) {
	query := fmt.Sprintf(`SELECT memory_id, sector, embedding, user_id, metadata FROM %s WHERE memory_id = ? AND sector = ?`, c.table)
	args := []interface{}{id, string(sec)}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	row := c.db.QueryRowContext(ctx, query, args...)
	rec, err := c.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vectorstore/oceanbase: get vector: %w", err)
	}
	return rec, nil
}

// GetVectorsByIds fetches every sector's embedding for each id in ids.
func (c *Client) GetVectorsByIds(ctx context.Context, ids []int64, tenant metastore.Tenant) ([]*vectorstore.Record, error) {
	if len(ids) > vectorstore.MaxBatchIDs {
		return nil, vectorstore.ErrTooManyIDs
	}
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT memory_id, sector, embedding, user_id, metadata FROM %s WHERE memory_id IN (%s)`,
		c.table, strings.Join(placeholders, ","))
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/oceanbase: get by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*vectorstore.Record
	for rows.Next() {
		rec, err := c.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SearchSimilar ranks every stored vector in sec against queryVec
// using OceanBase's native cosine_distance, returning the top K.
func (c *Client) SearchSimilar(ctx context.Context, sec sector.Sector, queryVec []float64, opts vectorstore.SearchOptions) ([]vectorstore.Scored, error) {
	query := fmt.Sprintf(`SELECT memory_id, user_id, metadata, cosine_distance(embedding, ?) AS distance
		FROM %s WHERE sector = ?`, c.table)
	args := []interface{}{vecToString(queryVec), string(sec)}
	query, args = metastore.Rewrite(query, "user_id", opts.Tenant, args)
	query += " ORDER BY distance ASC"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/oceanbase: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scored []vectorstore.Scored
	for rows.Next() {
		var (
			memID    int64
			userID   sql.NullString
			metaStr  sql.NullString
			distance float64
		)
		if err := rows.Scan(&memID, &userID, &metaStr, &distance); err != nil {
			return nil, fmt.Errorf("vectorstore/oceanbase: scan search row: %w", err)
		}
		if len(opts.Filters) > 0 {
			meta := map[string]interface{}{}
			if metaStr.Valid && metaStr.String != "" {
				_ = json.Unmarshal([]byte(metaStr.String), &meta)
			}
			if !matchesFilters(meta, opts.Filters) {
				continue
			}
		}
		scored = append(scored, vectorstore.Scored{MemoryID: memID, Sector: sec, Score: 1.0 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

// DeleteVectors removes every sector's embedding for each id in ids.
func (c *Client) DeleteVectors(ctx context.Context, ids []int64, tenant metastore.Tenant) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE memory_id IN (%s)`, c.table, strings.Join(placeholders, ","))
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	_, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("vectorstore/oceanbase: delete vectors: %w", err)
	}
	return nil
}

// DeleteVectorSector removes the embedding for (id, sec) only.
func (c *Client) DeleteVectorSector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE memory_id = ? AND sector = ?`, c.table)
	args := []interface{}{id, string(sec)}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	_, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("vectorstore/oceanbase: delete vector sector: %w", err)
	}
	return nil
}

// IterateVectorIds calls fn for every distinct memory id scoped to
// tenant, stopping at the first error fn returns.
func (c *Client) IterateVectorIds(ctx context.Context, tenant metastore.Tenant, fn func(id int64) error) error {
	query := fmt.Sprintf(`SELECT DISTINCT memory_id FROM %s`, c.table)
	var args []interface{}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("vectorstore/oceanbase: iterate: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("vectorstore/oceanbase: scan id: %w", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetAllVectorIds returns every distinct memory id scoped to tenant,
// erroring if the result would exceed cap.
func (c *Client) GetAllVectorIds(ctx context.Context, tenant metastore.Tenant, cap int) ([]int64, error) {
	query := fmt.Sprintf(`SELECT DISTINCT memory_id FROM %s`, c.table)
	var args []interface{}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)
	if cap > 0 {
		query += " LIMIT ?"
		args = append(args, cap+1)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/oceanbase: get all ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if cap > 0 && len(out) > cap {
		return nil, vectorstore.ErrTooLarge
	}
	return out, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) scanRecord(s interface{ Scan(dest ...interface{}) error }) (*vectorstore.Record, error) {
	var (
		memID     int64
		secStr    string
		embedStr  string
		userID    sql.NullString
		metaStr   sql.NullString
	)
	if err := s.Scan(&memID, &secStr, &embedStr, &userID, &metaStr); err != nil {
		return nil, err
	}
	vec, err := parseVecString(embedStr)
	if err != nil {
		return nil, err
	}
	rec := &vectorstore.Record{MemoryID: memID, Sector: sector.Sector(secStr), Vector: vec, Dim: len(vec)}
	if userID.Valid {
		v := userID.String
		rec.UserID = &v
	}
	if metaStr.Valid && metaStr.String != "" && metaStr.String != "null" {
		meta := map[string]interface{}{}
		if err := json.Unmarshal([]byte(metaStr.String), &meta); err != nil {
			return nil, fmt.Errorf("vectorstore/oceanbase: unmarshal metadata: %w", err)
		}
		rec.Metadata = meta
	}
	return rec, nil
}

func matchesFilters(metadata, filters map[string]interface{}) bool {
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
