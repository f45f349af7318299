package bridge

import (
	"fmt"
	"unicode/utf8"

	"github.com/roach88/simbridge/internal/event"
	"github.com/roach88/simbridge/internal/native"
	"github.com/roach88/simbridge/internal/sink"
)

// maxStatusLine bounds the length of a status annotation in bytes.
const maxStatusLine = 128

// handler receives engine callbacks for one instance. Every callback
// records its payload, bumps its counter and signals waiters, snapshots the
// generation, then enqueues a marker, in that order and never with an
// error.
type handler struct {
	in *Instance
}

var _ native.Handler = handler{}

// record applies a payload mutation, bumps k and signals waiters under the
// main lock, then enqueues a marker stamped with the generation seen there.
func (in *Instance) record(k event.Kind, apply func()) {
	in.mu.Lock()
	if apply != nil {
		apply()
	}
	in.counts.Inc(k)
	in.sig.signal()
	gen := in.gen
	in.mu.Unlock()

	in.enqueue(k, gen)
}

func (h handler) SendChar(msg string, _ int) {
	in := h.in
	if in.destroying.Load() {
		return
	}
	in.record(event.KindSendChar, func() { in.msgs.Push(msg) })
}

func (h handler) SendStat(msg string, id int) {
	in := h.in
	if in.destroying.Load() {
		return
	}
	line := truncate(fmt.Sprintf("# status[%d]: %s", id, msg), maxStatusLine)
	in.record(event.KindSendStat, func() { in.msgs.Annotate(line) })
}

// ControlledExit is honoured even during teardown: teardown waits for it.
func (h handler) ControlledExit(status int, immediate, quitUponExit bool, _ int) {
	in := h.in
	in.exitMu.Lock()
	in.exited = true
	in.quitting = false
	in.exitSig.signal()
	in.exitMu.Unlock()

	in.logger.Debug("engine exited", "status", status, "immediate", immediate, "quit_upon_exit", quitUponExit)
	in.record(event.KindControlledExit, nil)
}

func (h handler) SendData(values []native.VecValue, count, _ int) {
	in := h.in
	if in.destroying.Load() || count <= 0 || len(values) == 0 {
		return
	}
	row := make(sink.Row, len(values))
	for i, v := range values {
		row[i] = sink.Cell{Name: v.Name, Real: v.Real, Imag: v.Imag, Complex: v.Complex}
	}
	in.record(event.KindSendData, func() { in.rows.Append(row) })
}

func (h handler) SendInitData(vecs []native.VecInfo, _ int) {
	in := h.in
	if in.destroying.Load() {
		return
	}
	snap := &sink.InitSnapshot{Vectors: make([]sink.VecInfo, len(vecs))}
	for i, v := range vecs {
		snap.Vectors[i] = sink.VecInfo{Name: v.Name, Number: v.Number, Real: v.Real}
	}
	in.record(event.KindSendInitData, func() { in.initSnap = snap })
}

// BackgroundRunning updates the lifecycle flags even during teardown so the
// sequencer can see the worker start or end.
func (h handler) BackgroundRunning(running bool, _ int) {
	in := h.in
	in.bgMu.Lock()
	if running {
		if !in.bgStarted {
			in.bgStarted = true
			if in.state == StartingBackground {
				in.state = BackgroundActive
			}
		}
	} else {
		in.bgEnded = true
		if in.state == StoppingBackground || in.state == BackgroundActive {
			in.state = Idle
		}
	}
	state := in.state
	in.bgSig.signal()
	in.bgMu.Unlock()

	if in.destroying.Load() {
		return
	}
	line := "# background thread running ended"
	if running {
		line = "# background thread running started"
	}
	in.logger.Debug("background worker", "running", running, "state", state.String())
	in.record(event.KindBGRunning, func() { in.msgs.Annotate(line) })
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
