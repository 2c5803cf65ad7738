// Package sqlite implements vectorstore.Store over a local SQLite
// database, storing vectors as packed float32 blobs (rather than the
// teacher's JSON-text columns) and scoring similarity in-process,
// since SQLite has no native vector index.
//
// Grounded on the teacher's pkg/storage/sqlite/client.go: same
// connection setup (_foreign_keys/_journal_mode pragmas), same
// full-table-scan-then-score search strategy, generalized from one
// table of JSON-text embeddings to one table partitioned by sector
// with packed-blob vectors and a real sort (the teacher's bubble sort
// replaced with sort.Slice, grounded on pkg/intelligence/manager.go's
// ProcessSearchResults sorting intent but using stdlib sort properly).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openmemory/core/pkg/metastore"
	"github.com/openmemory/core/pkg/sector"
	"github.com/openmemory/core/pkg/vectorstore"
)

// Client implements vectorstore.Store using SQLite as the backend.
type Client struct {
	db    *sql.DB
	table string
}

// Config configures a Client.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Table is the name of the table storing vector rows. Defaults to
	// "vector_records".
	Table string
}

// New opens (creating if necessary) a SQLite-backed vectorstore.Store.
func New(cfg Config) (*Client, error) {
	table := cfg.Table
	if table == "" {
		table = "vector_records"
	}

	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("vectorstore/sqlite: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("vectorstore/sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("vectorstore/sqlite: ping: %w", err)
	}

	c := &Client{db: db, table: table}
	if err := c.initTable(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			memory_id INTEGER NOT NULL,
			sector TEXT NOT NULL,
			vector BLOB NOT NULL,
			user_id TEXT,
			metadata TEXT,
			PRIMARY KEY (memory_id, sector)
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore/sqlite: init table: %w", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_sector ON %s(user_id, sector)`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("vectorstore/sqlite: init index: %w", err)
	}
	return nil
}

// StoreVector upserts the vector for (id, sector).
func (c *Client) StoreVector(ctx context.Context, id int64, sec sector.Sector, vec []float64, userID *string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("vectorstore/sqlite: marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (memory_id, sector, vector, user_id, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, sector) DO UPDATE SET
			vector = excluded.vector,
			user_id = excluded.user_id,
			metadata = excluded.metadata
	`, c.table)

	_, err = c.db.ExecContext(ctx, query, id, string(sec), vectorstore.PackVector(vec), userID, string(metaJSON))
	if err != nil {
		return fmt.Errorf("vectorstore/sqlite: store: %w", err)
	}
	return nil
}

// GetVector fetches the vector for (id, sector) scoped to tenant.
func (c *Client) GetVector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) (*vectorstore.Record, error) {
	query := fmt.Sprintf(`SELECT memory_id, sector, vector, user_id, metadata FROM %s WHERE memory_id = ? AND sector = ?`, c.table)
	args := []interface{}{id, string(sec)}

	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	row := c.db.QueryRowContext(ctx, query, args...)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vectorstore/sqlite: get: %w", err)
	}
	return rec, nil
}

// GetVectorsByIds fetches every sector's vector for each id in ids.
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

	query := fmt.Sprintf(`SELECT memory_id, sector, vector, user_id, metadata FROM %s WHERE memory_id IN (%s)`,
		c.table, joinPlaceholders(placeholders))

	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/sqlite: get by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*vectorstore.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SearchSimilar loads every vector in sec scoped to tenant and scores
// it against queryVec in process, since SQLite has no native ANN
// index; identical strategy to the teacher's sqlite Search.
func (c *Client) SearchSimilar(ctx context.Context, sec sector.Sector, queryVec []float64, opts vectorstore.SearchOptions) ([]vectorstore.Scored, error) {
	query := fmt.Sprintf(`SELECT memory_id, sector, vector, user_id, metadata FROM %s WHERE sector = ?`, c.table)
	args := []interface{}{string(sec)}

	query, args = metastore.Rewrite(query, "user_id", opts.Tenant, args)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/sqlite: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scored []vectorstore.Scored
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !matchesFilters(rec.Metadata, opts.Filters) {
			continue
		}
		score := vectorstore.CosineSimilarity(queryVec, rec.Vector)
		scored = append(scored, vectorstore.Scored{MemoryID: rec.MemoryID, Sector: rec.Sector, Score: score})
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

	k := opts.K
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// DeleteVectors removes every sector's vector for each id in ids.
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

	query := fmt.Sprintf(`DELETE FROM %s WHERE memory_id IN (%s)`, c.table, joinPlaceholders(placeholders))
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	_, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("vectorstore/sqlite: delete: %w", err)
	}
	return nil
}

// DeleteVectorSector removes the vector for (id, sec) only.
func (c *Client) DeleteVectorSector(ctx context.Context, id int64, sec sector.Sector, tenant metastore.Tenant) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE memory_id = ? AND sector = ?`, c.table)
	args := []interface{}{id, string(sec)}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)

	_, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("vectorstore/sqlite: delete sector: %w", err)
	}
	return nil
}

// IterateVectorIds streams every distinct memory id scoped to tenant.
func (c *Client) IterateVectorIds(ctx context.Context, tenant metastore.Tenant, fn func(id int64) error) error {
	query := fmt.Sprintf(`SELECT DISTINCT memory_id FROM %s`, c.table)
	args := []interface{}{}
	query, args = metastore.Rewrite(query, "user_id", tenant, args)
	query += " ORDER BY memory_id"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("vectorstore/sqlite: iterate: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
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
	var ids []int64
	err := c.IterateVectorIds(ctx, tenant, func(id int64) error {
		if cap > 0 && len(ids) >= cap {
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

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s rowScanner) (*vectorstore.Record, error) {
	var (
		memID    int64
		secStr   string
		vecBlob  []byte
		userID   sql.NullString
		metaStr  sql.NullString
	)

	if err := s.Scan(&memID, &secStr, &vecBlob, &userID, &metaStr); err != nil {
		return nil, err
	}

	vec, err := vectorstore.UnpackVector(vecBlob)
	if err != nil {
		return nil, err
	}

	rec := &vectorstore.Record{
		MemoryID: memID,
		Sector:   sector.Sector(secStr),
		Vector:   vec,
	}
	if userID.Valid {
		v := userID.String
		rec.UserID = &v
	}
	if metaStr.Valid && metaStr.String != "" && metaStr.String != "null" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(metaStr.String), &meta); err != nil {
			return nil, fmt.Errorf("vectorstore/sqlite: unmarshal metadata: %w", err)
		}
		rec.Metadata = meta
	}
	return rec, nil
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

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}
