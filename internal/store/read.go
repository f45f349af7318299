package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// InstanceRecord is an archived instance.
type InstanceRecord struct {
	ID       string `json:"id"`
	Scenario string `json:"scenario"`
	Fence    string `json:"fence"`
	Seq      int64  `json:"seq"`
}

// MarkerRecord is an archived retired marker.
type MarkerRecord struct {
	Seq               int64  `json:"seq"`
	Kind              string `json:"kind"`
	Generation        int64  `json:"generation"`
	CurrentGeneration int64  `json:"current_generation"`
	Outcome           string `json:"outcome"`
	Rows              int    `json:"rows"`
}

// TeardownRecord is an archived teardown report, kept as canonical JSON.
type TeardownRecord struct {
	Instance string `json:"instance"`
	Seq      int64  `json:"seq"`
	Outcome  string `json:"outcome"`
	Report   string `json:"report"`
}

// VectorRecord is an archived data table snapshot.
type VectorRecord struct {
	Generation int64  `json:"generation"`
	Seq        int64  `json:"seq"`
	Digest     string `json:"digest"`
	Snapshot   string `json:"snapshot"`
}

// OutcomeCount is the number of markers of one kind retired with one
// outcome.
type OutcomeCount struct {
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

// ReadInstances returns every archived instance in registration order.
// Returns an empty slice, not nil, for an empty archive.
func (s *Store) ReadInstances(ctx context.Context) ([]InstanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, fence, seq
		FROM instances
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	out := []InstanceRecord{}
	for rows.Next() {
		var r InstanceRecord
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Fence, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

// ReadInstance returns one instance or ErrNotFound.
func (s *Store) ReadInstance(ctx context.Context, id string) (InstanceRecord, error) {
	var r InstanceRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, fence, seq FROM instances WHERE id = ?
	`, id).Scan(&r.ID, &r.Scenario, &r.Fence, &r.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return InstanceRecord{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return InstanceRecord{}, fmt.Errorf("read instance %s: %w", id, err)
	}
	return r, nil
}

// ReadMarkers returns the retired markers of an instance in retirement
// order.
func (s *Store) ReadMarkers(ctx context.Context, instance string) ([]MarkerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, generation, current_generation, outcome, rows
		FROM markers
		WHERE instance_id = ?
		ORDER BY seq ASC, id ASC
	`, instance)
	if err != nil {
		return nil, fmt.Errorf("query markers: %w", err)
	}
	defer rows.Close()

	out := []MarkerRecord{}
	for rows.Next() {
		var r MarkerRecord
		if err := rows.Scan(&r.Seq, &r.Kind, &r.Generation, &r.CurrentGeneration, &r.Outcome, &r.Rows); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}
	return out, nil
}

// Summary counts an instance's markers by kind and outcome.
func (s *Store) Summary(ctx context.Context, instance string) ([]OutcomeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, outcome, COUNT(*)
		FROM markers
		WHERE instance_id = ?
		GROUP BY kind, outcome
		ORDER BY kind COLLATE BINARY ASC, outcome COLLATE BINARY ASC
	`, instance)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	out := []OutcomeCount{}
	for rows.Next() {
		var c OutcomeCount
		if err := rows.Scan(&c.Kind, &c.Outcome, &c.Count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", err)
	}
	return out, nil
}

// ReadTeardown returns an instance's teardown report or ErrNotFound.
func (s *Store) ReadTeardown(ctx context.Context, instance string) (TeardownRecord, error) {
	r := TeardownRecord{Instance: instance}
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, outcome, report FROM teardowns WHERE instance_id = ?
	`, instance).Scan(&r.Seq, &r.Outcome, &r.Report)
	if errors.Is(err, sql.ErrNoRows) {
		return TeardownRecord{}, fmt.Errorf("teardown of %s: %w", instance, ErrNotFound)
	}
	if err != nil {
		return TeardownRecord{}, fmt.Errorf("read teardown %s: %w", instance, err)
	}
	return r, nil
}

// ReadVectors returns an instance's snapshots by generation.
func (s *Store) ReadVectors(ctx context.Context, instance string) ([]VectorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT generation, seq, digest, snapshot
		FROM vectors
		WHERE instance_id = ?
		ORDER BY generation ASC
	`, instance)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	out := []VectorRecord{}
	for rows.Next() {
		var r VectorRecord
		if err := rows.Scan(&r.Generation, &r.Seq, &r.Digest, &r.Snapshot); err != nil {
			return nil, fmt.Errorf("scan vectors: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}
	return out, nil
}
