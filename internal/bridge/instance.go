package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/simbridge/internal/event"
	"github.com/roach88/simbridge/internal/metrics"
	"github.com/roach88/simbridge/internal/native"
	"github.com/roach88/simbridge/internal/sink"
	"github.com/roach88/simbridge/internal/vector"
)

// Instance owns all bridge state for one native engine.
//
// Locks are split by concern and never nested:
//   - mu: counters, message sink, row buffer, init snapshot, generation,
//     abort sequence
//   - viewMu: consumer-visible vector tables
//   - bgMu: lifecycle state and started/ended flags
//   - exitMu: exited/quitting flags
//   - cmdMu: pending command FIFO
type Instance struct {
	id       string
	engine   native.Engine
	lib      native.Library
	loop     *Loop
	poison   *Poison
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Bridge
	observer Observer
	idGen    IDGenerator

	mu       sync.Mutex
	sig      broadcast
	counts   event.Counts
	abortSeq uint64
	gen      uint64
	msgs     sink.MessageSink
	rows     sink.DataBuffer
	initSnap *sink.InitSnapshot

	viewMu    sync.Mutex
	viewGen   uint64
	data      *vector.Table
	initTable *vector.InitTable

	bgMu      sync.Mutex
	bgSig     broadcast
	state     State
	bgStarted bool
	bgEnded   bool

	exitMu   sync.Mutex
	exitSig  broadcast
	exited   bool
	quitting bool

	cmdMu    sync.Mutex
	cmdSig   broadcast
	pending  []PendingCommand
	flushing bool
	results  []CommandResult

	destroying      atomic.Bool
	unloadForbidden atomic.Bool
	leases          atomic.Int64
	freePending     atomic.Bool
	reclaimOnce     sync.Once
	reclaimed       atomic.Bool
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(in *Instance) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithConfig sets timings and fence policy. Zero durations take defaults.
func WithConfig(c Config) Option {
	return func(in *Instance) {
		in.cfg = c.withDefaults()
	}
}

// WithPoison shares p instead of the process-wide Poison.
func WithPoison(p *Poison) Option {
	return func(in *Instance) {
		if p != nil {
			in.poison = p
		}
	}
}

// WithMetrics records bridge activity into m.
func WithMetrics(m *metrics.Bridge) Option {
	return func(in *Instance) {
		in.metrics = m
	}
}

// WithObserver reports processed markers and teardowns to o.
func WithObserver(o Observer) Option {
	return func(in *Instance) {
		in.observer = o
	}
}

// WithIDGenerator sets how the instance ID is produced.
func WithIDGenerator(g IDGenerator) Option {
	return func(in *Instance) {
		if g != nil {
			in.idGen = g
		}
	}
}

// WithLibrary sets the library unloaded on reclamation.
func WithLibrary(lib native.Library) Option {
	return func(in *Instance) {
		in.lib = lib
	}
}

// New creates an instance bound to engine and delivering markers through
// loop, then registers its callbacks with the engine.
//
// Fails without touching the engine if the process is poisoned.
func New(engine native.Engine, loop *Loop, opts ...Option) (*Instance, error) {
	if engine == nil {
		return nil, newInputError("", "engine is required")
	}
	if loop == nil {
		return nil, newInputError("", "loop is required")
	}

	in := &Instance{
		engine:    engine,
		loop:      loop,
		poison:    ProcessPoison(),
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		idGen:     UUIDv7Generator{},
		sig:       newBroadcast(),
		bgSig:     newBroadcast(),
		exitSig:   newBroadcast(),
		cmdSig:    newBroadcast(),
		data:      vector.NewTable(),
		initTable: vector.NewInitTable(nil),
		state:     Idle,
	}
	for _, opt := range opts {
		opt(in)
	}
	in.id = in.idGen.Generate()
	in.logger = in.logger.With("instance", in.id)

	if in.poison.Poisoned() {
		return nil, &Error{Code: ErrCodeUnavailable, Message: "native engine is poisoned: " + in.poison.Cause()}
	}
	if err := engine.Init(handler{in}); err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	in.logger.Debug("instance created", "fence", in.cfg.Fence.String())
	return in, nil
}

// ID returns the instance identifier.
func (in *Instance) ID() string {
	return in.id
}

// Generation returns the current run generation.
func (in *Instance) Generation() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.gen
}

// Messages returns a copy of the message queue.
func (in *Instance) Messages() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.msgs.Lines()
}

// ClearMessages empties the message queue.
func (in *Instance) ClearMessages() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.msgs.Clear()
}

// Counts returns a snapshot of the per-kind event counters.
func (in *Instance) Counts() event.Counts {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.counts
}

// ClearCounts zeroes every counter.
func (in *Instance) ClearCounts() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.counts.Reset()
}

// Vectors returns the data table of the current run. The table is shared:
// later data is folded into a copy, so the returned table never changes.
func (in *Instance) Vectors() *vector.Table {
	in.viewMu.Lock()
	defer in.viewMu.Unlock()
	return in.data.Share()
}

// ClearVectors replaces the data table with an empty one.
func (in *Instance) ClearVectors() {
	in.viewMu.Lock()
	defer in.viewMu.Unlock()
	in.data = vector.NewTable()
}

// InitVectors returns the metadata table of the current run.
func (in *Instance) InitVectors() *vector.InitTable {
	in.viewMu.Lock()
	defer in.viewMu.Unlock()
	return in.initTable
}

// ClearInitVectors replaces the metadata table with an empty one.
func (in *Instance) ClearInitVectors() {
	in.viewMu.Lock()
	defer in.viewMu.Unlock()
	in.initTable = vector.NewInitTable(nil)
}

// IsRunning probes the engine's background worker. Always false once the
// instance is tearing down or the process is poisoned; the engine is not
// consulted then.
func (in *Instance) IsRunning() bool {
	if in.destroying.Load() || in.poison.Poisoned() {
		return false
	}
	return in.engine.Running()
}

// Exited reports whether the engine's exit (real or synthesized) has been
// observed.
func (in *Instance) Exited() bool {
	in.exitMu.Lock()
	defer in.exitMu.Unlock()
	return in.exited
}

// Destroying reports whether teardown has begun.
func (in *Instance) Destroying() bool {
	return in.destroying.Load()
}

// Reclaimed reports whether the instance's resources have been released.
func (in *Instance) Reclaimed() bool {
	return in.reclaimed.Load()
}

// UnloadForbidden reports whether this instance may no longer unload its
// library.
func (in *Instance) UnloadForbidden() bool {
	return in.unloadForbidden.Load()
}

// Leases returns the number of outstanding markers referencing the
// instance.
func (in *Instance) Leases() int64 {
	return in.leases.Load()
}
