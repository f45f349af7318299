package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/simbridge/internal/bridge"
	"github.com/roach88/simbridge/internal/vector"
)

// Sequencer numbers archived records. *Store implements it with an
// archive-wide sequence; testutil.DeterministicClock does for fresh
// archives.
type Sequencer interface {
	Next() int64
}

// Recorder archives bridge activity as it happens. It implements
// bridge.Observer.
//
// Observer callbacks cannot fail, so write errors are logged and the first
// one is kept for Err.
//
// Instances are archived under the key Register returns, which differs
// from the bridge id when the archive already holds that id.
type Recorder struct {
	store    *Store
	seq      Sequencer
	scenario string
	logger   *slog.Logger

	mu   sync.Mutex
	err  error
	keys map[string]string // bridge id -> archive key
}

var _ bridge.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder writing to s under the scenario name. A
// nil seq numbers records with the archive's own sequence.
func NewRecorder(s *Store, seq Sequencer, scenario string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if seq == nil {
		seq = s
	}
	return &Recorder{store: s, seq: seq, scenario: scenario, logger: logger, keys: make(map[string]string)}
}

// Register archives a new instance and returns its archive key. Call it
// before the instance produces any marker.
func (r *Recorder) Register(id string, fence bridge.FencePolicy) (string, error) {
	key, err := r.store.ClaimInstance(context.Background(), InstanceRecord{
		ID:       id,
		Scenario: r.scenario,
		Fence:    fence.String(),
		Seq:      r.seq.Next(),
	})
	if err != nil {
		r.keep(err)
		return "", err
	}
	r.mu.Lock()
	r.keys[id] = key
	r.mu.Unlock()
	if key != id {
		r.logger.Info("instance archived under a new key", "instance", id, "key", key)
	}
	return key, nil
}

// Key returns the archive key of a registered bridge id, or the id itself.
func (r *Recorder) Key(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.keys[id]; ok {
		return key
	}
	return id
}

// MarkerProcessed implements bridge.Observer.
func (r *Recorder) MarkerProcessed(m bridge.ProcessedMarker) {
	m.Instance = r.Key(m.Instance)
	r.keep(r.store.WriteMarker(context.Background(), r.seq.Next(), m))
}

// TeardownFinished implements bridge.Observer.
func (r *Recorder) TeardownFinished(rep bridge.TeardownReport) {
	rep.Instance = r.Key(rep.Instance)
	r.keep(r.store.WriteTeardown(context.Background(), r.seq.Next(), rep))
}

// Snapshot archives the current data table of an instance.
func (r *Recorder) Snapshot(id string, generation uint64, t *vector.Table) error {
	err := r.store.WriteVectors(context.Background(), r.seq.Next(), r.Key(id), generation, t)
	r.keep(err)
	return err
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) keep(err error) {
	if err == nil {
		return
	}
	r.logger.Error("archive write failed", "scenario", r.scenario, "error", err)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
