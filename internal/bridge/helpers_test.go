package bridge

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/simbridge/internal/native"
	"github.com/roach88/simbridge/internal/testutil"
)

// fakeEngine is a native.Engine whose callbacks the test fires by hand.
type fakeEngine struct {
	mu         sync.Mutex
	h          native.Handler
	commands   []string
	rc         map[string]int
	ignoreQuit bool
	closed     bool

	running atomic.Bool
	// onRunning, if set, runs inside every Running call with the call's
	// 1-based index.
	onRunning func(call int64)
	probes    atomic.Int64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{rc: make(map[string]int)}
}

func (e *fakeEngine) Init(h native.Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.h = h
	return nil
}

func (e *fakeEngine) Command(cmd string) int {
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	rc := e.rc[cmd]
	h := e.h
	ignore := e.ignoreQuit
	e.mu.Unlock()

	switch cmd {
	case native.CmdQuit:
		if !ignore {
			h.ControlledExit(0, false, true, 0)
		}
	default:
		if len(cmd) > 5 && cmd[:5] == "echo " {
			h.SendChar("stdout "+cmd[5:], 0)
		}
	}
	return rc
}

func (e *fakeEngine) Running() bool {
	n := e.probes.Add(1)
	if e.onRunning != nil {
		e.onRunning(n)
	}
	return e.running.Load()
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) handler() native.Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.h
}

func (e *fakeEngine) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// recordingObserver keeps every report.
type recordingObserver struct {
	mu        sync.Mutex
	markers   []ProcessedMarker
	teardowns []TeardownReport
}

func (o *recordingObserver) MarkerProcessed(m ProcessedMarker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.markers = append(o.markers, m)
}

func (o *recordingObserver) TeardownFinished(r TeardownReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.teardowns = append(o.teardowns, r)
}

func (o *recordingObserver) Markers() []ProcessedMarker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ProcessedMarker(nil), o.markers...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig keeps teardown waits short.
func testConfig() Config {
	return Config{
		PollSlice:   5 * time.Millisecond,
		StartProbe:  50 * time.Millisecond,
		HaltTimeout: 500 * time.Millisecond,
		HaltReissue: 50 * time.Millisecond,
		ExitTimeout: 200 * time.Millisecond,
	}
}

type fixture struct {
	in     *Instance
	loop   *Loop
	poison *Poison
	obs    *recordingObserver
}

func newInstance(t *testing.T, eng native.Engine, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		loop:   NewLoop(quietLogger()),
		poison: &Poison{},
		obs:    &recordingObserver{},
	}
	base := []Option{
		WithLogger(quietLogger()),
		WithConfig(testConfig()),
		WithPoison(f.poison),
		WithObserver(f.obs),
		WithIDGenerator(testutil.NewFixedIDGenerator("inst")),
	}
	in, err := New(eng, f.loop, append(base, opts...)...)
	require.NoError(t, err)
	f.in = in
	return f
}

func rowOf(name string, v float64) []native.VecValue {
	return []native.VecValue{{Name: name, Real: v}}
}
