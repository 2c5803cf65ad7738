// Package temporal implements the bitemporal fact/edge log: facts are
// either active (validTo = nil) or closed, and a superseding write
// closes the old fact, links it to the new one via a "superseded_by"
// edge, and emits the fact lifecycle events.
//
// Grounded on the bitemporal ValidFrom/ValidTo/IsCurrent fields shown
// in the retrieval pack's KittClouds Note/Storer reference
// (970a3cd6_KittClouds-Go-Machine-n__GoKitt-internal-store-models.go),
// adapted from single-entity version history into a subject/predicate
// /object fact model plus a supersession edge, and persisted over the
// same database/sql connection the metadata store uses.
package temporal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/openmemory/core/pkg/errs"
)

// EventKind enumerates the fact lifecycle events emitted by
// InsertFact/InvalidateFact. Store is intentionally silent about how
// events are delivered; Store.InsertFact and InvalidateFact simply
// return the list of events that occurred, leaving publishing to the
// caller (mirrors the teacher's event-bus-optional style).
type EventKind string

const (
	EventFactCreated     EventKind = "TEMPORAL_FACT_CREATED"
	EventFactSuperseded  EventKind = "TEMPORAL_FACT_SUPERSEDED"
	EventFactInvalidated EventKind = "TEMPORAL_FACT_INVALIDATED"
)

// Event is one lifecycle event alongside the fact id it concerns.
type Event struct {
	Kind   EventKind
	FactID string
}

// Fact is one bitemporal row. ValidTo is nil while the fact is active.
type Fact struct {
	ID         string
	Subject    string
	Predicate  string
	Object     string
	ValidFrom  time.Time
	ValidTo    *time.Time
	Confidence float64
	Metadata   map[string]interface{}
	UserID     *string
	LastUpdate time.Time
}

// Edge links two facts; "superseded_by" is the only kind this package
// creates today.
type Edge struct {
	ID       string
	FromFact string
	ToFact   string
	Kind     string
}

// Snapshot is a point-in-time view of a subject's facts, keyed by
// predicate, as used by CompareTimePoints.
type Snapshot map[string]Fact

// Diff is the result of comparing two snapshots, grouped by predicate.
type Diff struct {
	Changed   map[string][2]Fact // predicate -> {before, after}
	Unchanged map[string]Fact
	Added     map[string]Fact
	Removed   map[string]Fact
}

// ChangeFrequency summarizes how often a (subject, predicate) pair
// changed within a window.
type ChangeFrequency struct {
	Transitions         int
	AverageIntervalSecs float64
}

// Store is the bitemporal fact/edge log.
type Store struct {
	db    *sql.DB
	alpha float64 // reinforcement rate
}

// New opens (creating tables if needed) a Store over db.
func New(db *sql.DB, reinforcementAlpha float64) (*Store, error) {
	s := &Store{db: db, alpha: reinforcementAlpha}
	if err := s.initTables(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS temporal_facts (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			valid_from DATETIME NOT NULL,
			valid_to DATETIME,
			confidence REAL NOT NULL,
			metadata TEXT,
			user_id TEXT,
			last_updated DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_temporal_facts_subject_predicate ON temporal_facts(subject, predicate, user_id)`,
		`CREATE TABLE IF NOT EXISTS temporal_edges (
			id TEXT PRIMARY KEY,
			from_fact TEXT NOT NULL,
			to_fact TEXT NOT NULL,
			kind TEXT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("temporal: init: %w", err)
		}
	}
	return nil
}

// activeFact returns the current active fact for (subject, predicate,
// userID), or nil if there is none.
func (s *Store) activeFact(ctx context.Context, subject, predicate string, userID *string) (*Fact, error) {
	query := `SELECT id, subject, predicate, object, valid_from, valid_to, confidence, metadata, user_id, last_updated
		FROM temporal_facts WHERE subject = ? AND predicate = ? AND valid_to IS NULL`
	args := []interface{}{subject, predicate}
	if userID != nil {
		query += " AND user_id = ?"
		args = append(args, *userID)
	} else {
		query += " AND user_id IS NULL"
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// InsertFact applies the spec's fact-insertion state machine: create
// if none exists, reinforce confidence if the object is unchanged, or
// close-and-supersede if the object changed.
func (s *Store) InsertFact(ctx context.Context, subject, predicate, object string, validFrom time.Time, confidence float64, metadata map[string]interface{}, userID *string) (*Fact, []Event, error) {
	current, err := s.activeFact(ctx, subject, predicate, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("temporal: insert fact: %w", err)
	}

	if current == nil {
		f := &Fact{
			ID:         uuid.NewString(),
			Subject:    subject,
			Predicate:  predicate,
			Object:     object,
			ValidFrom:  validFrom,
			Confidence: confidence,
			Metadata:   metadata,
			UserID:     userID,
			LastUpdate: validFrom,
		}
		if err := s.insertRow(ctx, f); err != nil {
			return nil, nil, err
		}
		return f, []Event{{Kind: EventFactCreated, FactID: f.ID}}, nil
	}

	if current.Object == object {
		newConfidence := math.Min(1, current.Confidence+s.alpha*(1-current.Confidence))
		now := time.Now()
		_, err := s.db.ExecContext(ctx,
			`UPDATE temporal_facts SET confidence = ?, last_updated = ? WHERE id = ?`,
			newConfidence, now, current.ID,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("temporal: reinforce: %w", err)
		}
		current.Confidence = newConfidence
		current.LastUpdate = now
		return current, nil, nil
	}

	// Object changed: close the existing fact one millisecond before
	// the new fact's validFrom, insert the new fact, and link them.
	closedAt := validFrom.Add(-time.Millisecond)
	if _, err := s.db.ExecContext(ctx, `UPDATE temporal_facts SET valid_to = ? WHERE id = ?`, closedAt, current.ID); err != nil {
		return nil, nil, fmt.Errorf("temporal: close superseded fact: %w", err)
	}

	next := &Fact{
		ID:         uuid.NewString(),
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		ValidFrom:  validFrom,
		Confidence: confidence,
		Metadata:   metadata,
		UserID:     userID,
		LastUpdate: validFrom,
	}
	if err := s.insertRow(ctx, next); err != nil {
		return nil, nil, err
	}

	edge := Edge{ID: uuid.NewString(), FromFact: current.ID, ToFact: next.ID, Kind: "superseded_by"}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO temporal_edges (id, from_fact, to_fact, kind) VALUES (?, ?, ?, ?)`,
		edge.ID, edge.FromFact, edge.ToFact, edge.Kind,
	); err != nil {
		return nil, nil, fmt.Errorf("temporal: link supersession: %w", err)
	}

	return next, []Event{
		{Kind: EventFactSuperseded, FactID: current.ID},
		{Kind: EventFactCreated, FactID: next.ID},
	}, nil
}

func (s *Store) insertRow(ctx context.Context, f *Fact) error {
	metaJSON, err := marshalMetadata(f.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO temporal_facts (id, subject, predicate, object, valid_from, valid_to, confidence, metadata, user_id, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Subject, f.Predicate, f.Object, f.ValidFrom, f.ValidTo, f.Confidence, metaJSON, f.UserID, f.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("temporal: insert: %w", err)
	}
	return nil
}

// InvalidateFact sets validTo = at for the named fact, rejecting the
// write if at precedes the fact's validFrom.
func (s *Store) InvalidateFact(ctx context.Context, id string, reason string, at time.Time) error {
	var validFrom time.Time
	row := s.db.QueryRowContext(ctx, `SELECT valid_from FROM temporal_facts WHERE id = ?`, id)
	if err := row.Scan(&validFrom); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.New("InvalidateFact", errs.KindNotFound, errs.ErrNotFound)
		}
		return fmt.Errorf("temporal: invalidate: %w", err)
	}

	if at.Before(validFrom) {
		return errs.New("InvalidateFact", errs.KindIntegrity, errs.ErrValidToBeforeFrom)
	}

	_, err := s.db.ExecContext(ctx, `UPDATE temporal_facts SET valid_to = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("temporal: invalidate: %w", err)
	}
	return nil
}

// QueryFactsAtTime returns facts active at instant at for subject
// (and, if non-empty, predicate). At most one active fact per
// (subject, predicate) can exist at any instant.
func (s *Store) QueryFactsAtTime(ctx context.Context, subject, predicate string, at time.Time, userID *string) ([]Fact, error) {
	query := `SELECT id, subject, predicate, object, valid_from, valid_to, confidence, metadata, user_id, last_updated
		FROM temporal_facts WHERE subject = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)`
	args := []interface{}{subject, at, at}
	if predicate != "" {
		query += " AND predicate = ?"
		args = append(args, predicate)
	}
	if userID != nil {
		query += " AND user_id = ?"
		args = append(args, *userID)
	} else {
		query += " AND user_id IS NULL"
	}

	return s.queryFacts(ctx, query, args...)
}

// QueryFactsInRange returns any fact for subject whose
// [validFrom, validTo∨∞] interval intersects [from, to].
func (s *Store) QueryFactsInRange(ctx context.Context, subject string, from, to time.Time, userID *string) ([]Fact, error) {
	query := `SELECT id, subject, predicate, object, valid_from, valid_to, confidence, metadata, user_id, last_updated
		FROM temporal_facts WHERE subject = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)`
	args := []interface{}{subject, to, from}
	if userID != nil {
		query += " AND user_id = ?"
		args = append(args, *userID)
	} else {
		query += " AND user_id IS NULL"
	}
	return s.queryFacts(ctx, query, args...)
}

// CompareTimePoints snapshots subject's facts at t1 and t2 and
// classifies every predicate seen at either point.
func (s *Store) CompareTimePoints(ctx context.Context, subject string, t1, t2 time.Time, userID *string) (*Diff, error) {
	before, err := s.snapshot(ctx, subject, t1, userID)
	if err != nil {
		return nil, err
	}
	after, err := s.snapshot(ctx, subject, t2, userID)
	if err != nil {
		return nil, err
	}

	diff := &Diff{
		Changed:   map[string][2]Fact{},
		Unchanged: map[string]Fact{},
		Added:     map[string]Fact{},
		Removed:   map[string]Fact{},
	}

	for pred, b := range before {
		a, ok := after[pred]
		if !ok {
			diff.Removed[pred] = b
			continue
		}
		if a.Object == b.Object {
			diff.Unchanged[pred] = a
		} else {
			diff.Changed[pred] = [2]Fact{b, a}
		}
	}
	for pred, a := range after {
		if _, ok := before[pred]; !ok {
			diff.Added[pred] = a
		}
	}
	return diff, nil
}

func (s *Store) snapshot(ctx context.Context, subject string, at time.Time, userID *string) (Snapshot, error) {
	facts, err := s.QueryFactsAtTime(ctx, subject, "", at, userID)
	if err != nil {
		return nil, err
	}
	snap := make(Snapshot, len(facts))
	for _, f := range facts {
		snap[f.Predicate] = f
	}
	return snap, nil
}

// ChangeFrequencyFor counts transitions for (subject, predicate)
// within the last windowDays, and the average duration active
// intervals ran for, treating still-active facts as running to now.
func (s *Store) ChangeFrequencyFor(ctx context.Context, subject, predicate string, windowDays int, userID *string) (*ChangeFrequency, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -windowDays)

	facts, err := s.QueryFactsInRange(ctx, subject, from, now, userID)
	if err != nil {
		return nil, err
	}

	var filtered []Fact
	for _, f := range facts {
		if f.Predicate == predicate {
			filtered = append(filtered, f)
		}
	}

	if len(filtered) == 0 {
		return &ChangeFrequency{}, nil
	}

	var totalSecs float64
	for _, f := range filtered {
		end := now
		if f.ValidTo != nil {
			end = *f.ValidTo
		}
		totalSecs += end.Sub(f.ValidFrom).Seconds()
	}

	return &ChangeFrequency{
		Transitions:         len(filtered) - 1,
		AverageIntervalSecs: totalSecs / float64(len(filtered)),
	}, nil
}

// DecayConfidence multiplies the confidence of every active fact by
// exp(-lambda * deltaDays), closing any fact whose confidence falls
// below floor. Returns the number of facts closed.
func (s *Store) DecayConfidence(ctx context.Context, lambda, floor float64) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, confidence, last_updated FROM temporal_facts WHERE valid_to IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("temporal: decay: %w", err)
	}
	type pending struct {
		id         string
		confidence float64
	}
	var toUpdate []pending
	var toClose []string

	now := time.Now()
	for rows.Next() {
		var id string
		var confidence float64
		var lastUpdated time.Time
		if err := rows.Scan(&id, &confidence, &lastUpdated); err != nil {
			_ = rows.Close()
			return 0, err
		}
		deltaDays := now.Sub(lastUpdated).Hours() / 24
		next := confidence * math.Exp(-lambda*deltaDays)
		if next < floor {
			toClose = append(toClose, id)
		} else {
			toUpdate = append(toUpdate, pending{id: id, confidence: next})
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	for _, p := range toUpdate {
		if _, err := s.db.ExecContext(ctx, `UPDATE temporal_facts SET confidence = ? WHERE id = ?`, p.confidence, p.id); err != nil {
			return 0, fmt.Errorf("temporal: decay update: %w", err)
		}
	}
	for _, id := range toClose {
		if _, err := s.db.ExecContext(ctx, `UPDATE temporal_facts SET valid_to = ? WHERE id = ?`, now, id); err != nil {
			return 0, fmt.Errorf("temporal: decay close: %w", err)
		}
	}
	return len(toClose), nil
}

func (s *Store) queryFacts(ctx context.Context, query string, args ...interface{}) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("temporal: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(r rowScanner) (*Fact, error) {
	var f Fact
	var validTo sql.NullTime
	var metaStr sql.NullString
	var userID sql.NullString

	if err := r.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object, &f.ValidFrom, &validTo, &f.Confidence, &metaStr, &userID, &f.LastUpdate); err != nil {
		return nil, err
	}
	if validTo.Valid {
		f.ValidTo = &validTo.Time
	}
	if userID.Valid {
		v := userID.String
		f.UserID = &v
	}
	if metaStr.Valid && metaStr.String != "" && metaStr.String != "null" {
		meta, err := unmarshalMetadata(metaStr.String)
		if err != nil {
			return nil, err
		}
		f.Metadata = meta
	}
	return &f, nil
}
