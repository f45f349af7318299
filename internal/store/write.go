package store

import (
	"context"
	"fmt"

	"github.com/roach88/simbridge/internal/bridge"
	"github.com/roach88/simbridge/internal/vector"
)

// WriteInstance registers an instance. Markers, teardowns and vectors
// reference it, so it must be written first. An id already in the archive
// is an error.
func (s *Store) WriteInstance(ctx context.Context, inst InstanceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, scenario, fence, seq)
		VALUES (?, ?, ?, ?)
	`, inst.ID, inst.Scenario, inst.Fence, inst.Seq)
	if err != nil {
		return fmt.Errorf("write instance %s: %w", inst.ID, err)
	}
	return nil
}

// ClaimInstance registers inst under the first free key among inst.ID,
// inst.ID#2, inst.ID#3, ... and returns the key it got. Instance ids are
// deterministic per scenario, so an archive that sees the same scenario
// twice keeps the runs apart this way.
func (s *Store) ClaimInstance(ctx context.Context, inst InstanceRecord) (string, error) {
	for n := 1; ; n++ {
		key := inst.ID
		if n > 1 {
			key = fmt.Sprintf("%s#%d", inst.ID, n)
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO instances (id, scenario, fence, seq)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, key, inst.Scenario, inst.Fence, inst.Seq)
		if err != nil {
			return "", fmt.Errorf("claim instance %s: %w", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("claim instance %s: %w", key, err)
		}
		if affected == 1 {
			return key, nil
		}
	}
}

// WriteMarker appends a retired marker.
func (s *Store) WriteMarker(ctx context.Context, seq int64, m bridge.ProcessedMarker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markers (instance_id, seq, kind, generation, current_generation, outcome, rows)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.Instance, seq, m.Kind.String(), int64(m.Generation), int64(m.Current), string(m.Outcome), m.Rows)
	if err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// WriteTeardown stores the report of an instance's first completed
// teardown. Later (skipped) teardowns of the same instance are ignored.
func (s *Store) WriteTeardown(ctx context.Context, seq int64, rep bridge.TeardownReport) error {
	data, err := vector.MarshalCanonical(rep.Canonical())
	if err != nil {
		return fmt.Errorf("write teardown: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO teardowns (instance_id, seq, outcome, report)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id) DO NOTHING
	`, rep.Instance, seq, rep.Outcome(), string(data))
	if err != nil {
		return fmt.Errorf("write teardown: %w", err)
	}
	return nil
}

// WriteVectors snapshots a run's data table with its digest. A later
// snapshot of the same generation replaces the earlier one.
func (s *Store) WriteVectors(ctx context.Context, seq int64, instance string, generation uint64, t *vector.Table) error {
	data, err := vector.MarshalCanonical(t.Canonical())
	if err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	digest, err := vector.Digest(t)
	if err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vectors (instance_id, generation, seq, digest, snapshot)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, generation) DO UPDATE SET
			seq = excluded.seq,
			digest = excluded.digest,
			snapshot = excluded.snapshot
	`, instance, int64(generation), seq, digest, string(data))
	if err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	return nil
}
