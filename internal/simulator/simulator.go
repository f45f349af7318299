// Package simulator is an in-process stand-in for the native engine. It
// runs a scripted background worker that reports start, init metadata, a
// fixed number of data rows and end, and it can be told to misbehave: die
// without reporting its end, or ignore quit.
package simulator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/simbridge/internal/native"
)

// Vector declares one vector the worker reports.
type Vector struct {
	Name    string `yaml:"name"`
	Complex bool   `yaml:"complex"`
}

// Script drives the simulated worker.
type Script struct {
	// Vectors reported in every row. Default: time, v1.
	Vectors []Vector
	// Rows is the number of data rows per run.
	Rows int
	// RowInterval is the pause before each row.
	RowInterval time.Duration
	// StartDelay is the pause before the worker reports "started".
	StartDelay time.Duration
	// DieAfterRows > 0 makes the worker vanish after that many rows
	// without reporting its end.
	DieAfterRows int
	// HoldUntilHalt keeps the worker alive after its rows until bg_halt.
	HoldUntilHalt bool
	// IgnoreQuit makes quit a no-op that never reports an exit.
	IgnoreQuit bool
}

// closeGrace bounds how long Close waits for a halted worker to exit.
const closeGrace = time.Second

// DefaultVectors is used when a script names none.
var DefaultVectors = []Vector{{Name: "time"}, {Name: "v1"}}

// Simulator implements native.Engine and native.Library.
type Simulator struct {
	script Script

	mu         sync.Mutex
	h          native.Handler
	commands   []string
	circuit    []string
	halt       chan struct{}
	haltClosed bool
	done       chan struct{}
	exited     bool
	closed     bool
	runs       int

	running atomic.Bool
}

var (
	_ native.Engine  = (*Simulator)(nil)
	_ native.Library = (*Simulator)(nil)
)

// New creates a simulator for script.
func New(script Script) *Simulator {
	if len(script.Vectors) == 0 {
		script.Vectors = DefaultVectors
	}
	return &Simulator{script: script}
}

// Init registers the callback handler.
func (s *Simulator) Init(h native.Handler) error {
	if h == nil {
		return errors.New("simulator: nil handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = h
	return nil
}

func (s *Simulator) handler() native.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}

// Command executes cmd. Text output is reported synchronously on the
// calling goroutine.
func (s *Simulator) Command(cmd string) int {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	h := s.h
	exited := s.exited
	s.mu.Unlock()

	if h == nil || exited {
		return 1
	}

	switch {
	case cmd == native.CmdBackgroundRun:
		return s.startWorker()
	case cmd == native.CmdBackgroundHalt:
		s.requestHalt()
		return 0
	case cmd == native.CmdQuit:
		if s.script.IgnoreQuit {
			return 0
		}
		s.mu.Lock()
		s.exited = true
		s.mu.Unlock()
		s.requestHalt()
		h.ControlledExit(0, false, true, 0)
		return 0
	case cmd == native.CmdUnsetAskQuit:
		return 0
	case cmd == "echo" || strings.HasPrefix(cmd, "echo "):
		h.SendChar("stdout "+strings.TrimSpace(strings.TrimPrefix(cmd, "echo")), 0)
		return 0
	case cmd == "status":
		h.SendStat("--ready--", 0)
		return 0
	case strings.HasPrefix(cmd, "circbyline "):
		s.mu.Lock()
		s.circuit = append(s.circuit, strings.TrimPrefix(cmd, "circbyline "))
		s.mu.Unlock()
		return 0
	default:
		h.SendChar(fmt.Sprintf("stderr Error: unknown command %s", cmd), 0)
		return 1
	}
}

// Running reports whether the worker is alive.
func (s *Simulator) Running() bool {
	return s.running.Load()
}

// Close marks the library unloaded. A worker that was told to halt gets a
// moment to exit; unloading under a live worker is an error.
func (s *Simulator) Close() error {
	s.mu.Lock()
	done, halting := s.done, s.haltClosed
	s.mu.Unlock()
	if halting && done != nil {
		select {
		case <-done:
		case <-time.After(closeGrace):
		}
	}
	if s.running.Load() {
		return errors.New("simulator: unloaded while worker running")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close succeeded.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Commands returns every command received, in order.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Circuit returns lines added with circbyline.
func (s *Simulator) Circuit() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.circuit...)
}

// Runs returns the number of worker runs started.
func (s *Simulator) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// WaitIdle blocks until the current worker (if any) has finished or
// timeout passes. Returns false on timeout.
func (s *Simulator) WaitIdle(timeout time.Duration) bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Simulator) startWorker() int {
	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		return 1
	}
	s.running.Store(true)
	s.halt = make(chan struct{})
	s.haltClosed = false
	s.done = make(chan struct{})
	s.runs++
	halt, done := s.halt, s.done
	s.mu.Unlock()

	go s.work(halt, done)
	return 0
}

func (s *Simulator) requestHalt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halt != nil && !s.haltClosed {
		close(s.halt)
		s.haltClosed = true
	}
}

// work is the background worker. It reports "ended" before clearing the
// running flag, so a probe never sees it gone without the report unless
// it died.
func (s *Simulator) work(halt, done chan struct{}) {
	defer close(done)
	h := s.handler()
	sc := s.script

	pause(sc.StartDelay, halt)
	h.BackgroundRunning(true, 0)

	infos := make([]native.VecInfo, len(sc.Vectors))
	for j, v := range sc.Vectors {
		infos[j] = native.VecInfo{Name: v.Name, Number: j, Real: !v.Complex}
	}
	h.SendInitData(infos, 0)

	rows := sc.Rows
	if sc.DieAfterRows > 0 && sc.DieAfterRows < rows {
		rows = sc.DieAfterRows
	}
	for i := 0; i < rows; i++ {
		if !pause(sc.RowInterval, halt) {
			break
		}
		h.SendData(Row(sc.Vectors, i), 1, 0)
	}

	if sc.DieAfterRows > 0 {
		s.running.Store(false)
		return
	}
	if sc.HoldUntilHalt {
		<-halt
	}
	h.BackgroundRunning(false, 0)
	s.running.Store(false)
}

// pause sleeps for d unless halt closes first. Returns false if halted.
func pause(d time.Duration, halt <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-halt:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-halt:
		return false
	case <-t.C:
		return true
	}
}

// Row returns the deterministic values of row i: real vector j holds
// i*0.5+j, complex vector j holds (i, -j).
func Row(vecs []Vector, i int) []native.VecValue {
	out := make([]native.VecValue, len(vecs))
	for j, v := range vecs {
		if v.Complex {
			out[j] = native.VecValue{Name: v.Name, Real: float64(i), Imag: -float64(j), Complex: true}
		} else {
			out[j] = native.VecValue{Name: v.Name, Real: float64(i)*0.5 + float64(j)}
		}
	}
	return out
}
