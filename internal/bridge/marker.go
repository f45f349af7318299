package bridge

import (
	"github.com/roach88/simbridge/internal/event"
	"github.com/roach88/simbridge/internal/sink"
	"github.com/roach88/simbridge/internal/vector"
)

// enqueue hands a marker to the loop, taking a lease for it. Nothing is
// queued once teardown has begun.
func (in *Instance) enqueue(k event.Kind, gen uint64) {
	if in.destroying.Load() {
		return
	}
	in.preserve()
	if !in.loop.submit(Marker{inst: in, Kind: k, Generation: gen}) {
		in.release()
		return
	}
	in.metrics.MarkerEnqueued(k.String())
}

// consume applies a marker on the consumer goroutine.
func (in *Instance) consume(m Marker) {
	if in.reclaimed.Load() {
		in.retire(m, OutcomePurged, 0)
		return
	}

	in.mu.Lock()
	current := in.gen
	in.mu.Unlock()

	if m.Generation != current && in.cfg.Fence.Fences(m.Kind) {
		in.retire(m, OutcomeStale, 0)
		return
	}

	outcome, rows := OutcomeApplied, 0
	switch m.Kind {
	case event.KindSendInitData:
		outcome = in.applyInit(m.Generation)
	case event.KindSendData:
		outcome, rows = in.applyData(m.Generation)
	case event.KindBGRunning:
		in.flushPending()
	}
	in.retire(m, outcome, rows)
}

// applyInit turns the one-shot init snapshot into the visible metadata
// table. The snapshot is taken only if it still belongs to gen.
func (in *Instance) applyInit(gen uint64) Outcome {
	in.mu.Lock()
	if in.gen != gen {
		in.mu.Unlock()
		return OutcomeStale
	}
	snap := in.initSnap
	in.initSnap = nil
	in.mu.Unlock()

	if snap == nil {
		return OutcomeApplied
	}
	entries := make([]vector.InitEntry, len(snap.Vectors))
	for i, v := range snap.Vectors {
		entries[i] = vector.InitEntry{Name: v.Name, Index: v.Number, Real: v.Real}
	}
	table := vector.NewInitTable(entries)

	in.viewMu.Lock()
	defer in.viewMu.Unlock()
	if in.viewGen != gen {
		return OutcomeStale
	}
	in.initTable = table
	return OutcomeApplied
}

// applyData detaches the row buffer and folds it into the visible data
// table: real cells as scalars, complex cells as pairs.
func (in *Instance) applyData(gen uint64) (Outcome, int) {
	in.mu.Lock()
	if in.gen != gen {
		in.mu.Unlock()
		return OutcomeStale, 0
	}
	rows := in.rows.Detach()
	in.mu.Unlock()

	n := len(rows)
	if n == 0 {
		return OutcomeApplied, 0
	}

	outcome := OutcomeApplied
	in.viewMu.Lock()
	if in.viewGen != gen {
		// A new run reset the table after the rows were detached.
		outcome, n = OutcomeStale, 0
	} else {
		if in.data.Shared() {
			in.data = in.data.Clone()
		}
		for i, row := range rows {
			foldRow(in.data, row)
			rows[i] = nil
		}
	}
	in.viewMu.Unlock()

	in.mu.Lock()
	in.rows.Recycle(rows)
	in.mu.Unlock()
	return outcome, n
}

func foldRow(t *vector.Table, row sink.Row) {
	for _, c := range row {
		if c.Complex {
			t.Append(c.Name, vector.Cplx(c.Real, c.Imag))
		} else {
			t.Append(c.Name, vector.Real(c.Real))
		}
	}
}

// retire reports a finished marker to metrics and the observer.
func (in *Instance) retire(m Marker, outcome Outcome, rows int) {
	in.metrics.MarkerProcessed(m.Kind.String(), string(outcome))
	if outcome == OutcomeStale {
		in.logger.Debug("discarding stale marker", "kind", m.Kind.String(), "generation", m.Generation)
	}
	if in.observer == nil {
		return
	}
	in.mu.Lock()
	current := in.gen
	in.mu.Unlock()
	in.observer.MarkerProcessed(ProcessedMarker{
		Instance:   in.id,
		Kind:       m.Kind,
		Generation: m.Generation,
		Current:    current,
		Outcome:    outcome,
		Rows:       rows,
	})
}

// preserve takes a lease on the instance.
func (in *Instance) preserve() {
	in.leases.Add(1)
}

// release drops a lease, reclaiming the instance if teardown is waiting on
// this one.
func (in *Instance) release() {
	if in.leases.Add(-1) == 0 && in.freePending.Load() {
		in.reclaimOnce.Do(in.reclaim)
	}
}

// eventuallyFree schedules reclamation for when the last lease is
// released. Returns true if it ran immediately.
func (in *Instance) eventuallyFree() bool {
	in.freePending.Store(true)
	if in.leases.Load() == 0 {
		in.reclaimOnce.Do(in.reclaim)
	}
	return in.reclaimed.Load()
}

// reclaim releases every buffer and unloads the library unless forbidden.
func (in *Instance) reclaim() {
	in.reclaimed.Store(true)

	in.mu.Lock()
	in.msgs.Clear()
	in.rows.Reset()
	in.initSnap = nil
	in.sig.signal()
	in.mu.Unlock()

	in.viewMu.Lock()
	in.data = vector.NewTable()
	in.initTable = vector.NewInitTable(nil)
	in.viewMu.Unlock()

	in.cmdMu.Lock()
	in.pending = nil
	in.results = nil
	in.cmdMu.Unlock()

	unloaded := false
	switch {
	case in.lib == nil:
	case in.unloadForbidden.Load() || in.poison.Poisoned():
		in.logger.Warn("library unload skipped")
	default:
		if err := in.lib.Close(); err != nil {
			in.logger.Error("library unload failed", "error", err)
		} else {
			unloaded = true
		}
	}

	in.metrics.Reclaimed()
	in.logger.Info("instance reclaimed", "unloaded", unloaded)
}
