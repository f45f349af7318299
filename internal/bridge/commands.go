package bridge

import (
	"fmt"
	"strings"

	"github.com/roach88/simbridge/internal/native"
	"github.com/roach88/simbridge/internal/vector"
)

// PendingCommand is a command deferred while the worker was starting or
// stopping.
type PendingCommand struct {
	Command string
	Capture bool
}

// CommandResult is the outcome of Command or Capture.
type CommandResult struct {
	Command string
	// RC is the engine's return code (0 on success). Zero when the command
	// was deferred or skipped.
	RC int
	// Output holds the lines captured while the command ran.
	Output []string
	// Captured is true when Output was collected.
	Captured bool
	// Deferred is true when the command was queued until the worker
	// settles.
	Deferred bool
	// Skipped is true when the process is poisoned and the engine was not
	// called.
	Skipped bool
	// Message explains a deferral or skip.
	Message string
}

// Command runs cmd on the engine, or defers it while the background worker
// is starting or stopping.
//
// Errors: an input error for an empty command, an unavailable error once
// teardown has begun. In a poisoned process the engine is not called and a
// skipped success is returned.
func (in *Instance) Command(cmd string) (CommandResult, error) {
	return in.command(cmd, false)
}

// Capture is Command with a capture window: the result's Output holds
// exactly the text lines the engine produced while the command ran.
func (in *Instance) Capture(cmd string) (CommandResult, error) {
	return in.command(cmd, true)
}

func (in *Instance) command(cmd string, capture bool) (CommandResult, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return CommandResult{}, newInputError(in.id, "empty command")
	}
	if in.poison.Poisoned() {
		in.logger.Warn("engine is poisoned, command skipped", "command", cmd)
		return CommandResult{Command: cmd, Skipped: true, Message: "native engine is poisoned"}, nil
	}
	if in.destroying.Load() {
		return CommandResult{}, newUnavailableError(in.id)
	}

	// Earlier deferred commands run first.
	in.flushPending()

	state := in.State()
	switch {
	case state == Dead:
		return CommandResult{}, newUnavailableError(in.id)
	case state.Transitional():
		return in.deferCommand(cmd, capture, state), nil
	}
	return in.dispatch(cmd, capture)
}

// deferCommand appends cmd to the pending FIFO.
func (in *Instance) deferCommand(cmd string, capture bool, state State) CommandResult {
	in.cmdMu.Lock()
	in.pending = append(in.pending, PendingCommand{Command: cmd, Capture: capture})
	in.cmdMu.Unlock()
	in.metrics.Deferred()

	verb := "starting"
	if state == StoppingBackground {
		verb = "stopping"
	}
	msg := fmt.Sprintf("background thread is %s, command %s is deferred", verb, cmd)
	in.logger.Info(msg)

	// The worker may have settled while we queued.
	if !in.State().Transitional() {
		in.flushPending()
	}
	return CommandResult{Command: cmd, Deferred: true, Message: msg}
}

// dispatch applies the lifecycle side effects of cmd and runs it. A
// teardown that marked the instance Dead in the meantime wins: nothing is
// sent and the instance is reported unavailable.
func (in *Instance) dispatch(cmd string, capture bool) (CommandResult, error) {
	var prev State
	switch cmd {
	case native.CmdBackgroundRun:
		var ok bool
		if prev, ok = in.beginRun(); !ok {
			return CommandResult{}, newUnavailableError(in.id)
		}
	case native.CmdBackgroundHalt:
		in.bgMu.Lock()
		dead := in.state == Dead
		if in.state == BackgroundActive {
			in.state = StoppingBackground
			in.bgSig.signal()
		}
		in.bgMu.Unlock()
		if dead {
			return CommandResult{}, newUnavailableError(in.id)
		}
	}

	if capture {
		in.mu.Lock()
		in.msgs.OpenCapture()
		in.mu.Unlock()
	}

	rc := in.engine.Command(cmd)

	res := CommandResult{Command: cmd, RC: rc, Captured: capture}
	if capture {
		in.mu.Lock()
		res.Output = in.msgs.CloseCapture()
		in.mu.Unlock()
	}

	if cmd == native.CmdBackgroundRun && rc != 0 {
		in.abortRun(prev, rc)
	}
	in.logger.Debug("command executed", "command", cmd, "rc", rc)
	return res, nil
}

// beginRun enters StartingBackground and opens a new generation: every
// marker recorded before now becomes stale and the visible tables restart
// empty. Returns the state it replaced, or false if the instance is
// already Dead.
func (in *Instance) beginRun() (State, bool) {
	in.bgMu.Lock()
	prev := in.state
	if prev == Dead {
		in.bgMu.Unlock()
		return prev, false
	}
	in.state = StartingBackground
	in.bgStarted = false
	in.bgEnded = false
	in.bgSig.signal()
	in.bgMu.Unlock()

	in.mu.Lock()
	in.gen++
	gen := in.gen
	in.initSnap = nil
	in.rows.Reset()
	in.mu.Unlock()

	in.viewMu.Lock()
	in.viewGen = gen
	in.data = vector.NewTable()
	in.initTable = vector.NewInitTable(nil)
	in.viewMu.Unlock()

	in.logger.Debug("run starting", "generation", gen)
	return prev, true
}

// abortRun leaves StartingBackground after the engine refused bg_run, so
// deferred commands are not held for a "started" that will never come. The
// next flush picks them up.
func (in *Instance) abortRun(prev State, rc int) {
	running := in.engine.Running()
	in.bgMu.Lock()
	if in.state == StartingBackground && !in.bgStarted {
		in.state = Idle
		if running || prev == BackgroundActive {
			in.state = BackgroundActive
		}
		in.bgSig.signal()
	}
	in.bgMu.Unlock()
	in.logger.Warn("engine refused background run", "rc", rc)
}

// flushPending runs deferred commands in submission order while the state
// is stable. A flushed bg_run re-enters StartingBackground and leaves the
// rest queued. Only one goroutine flushes at a time; others wait for it.
func (in *Instance) flushPending() {
	in.cmdMu.Lock()
	for in.flushing {
		ch := in.cmdSig.wait()
		in.cmdMu.Unlock()
		<-ch
		in.cmdMu.Lock()
	}
	if len(in.pending) == 0 {
		in.cmdMu.Unlock()
		return
	}
	in.flushing = true
	in.cmdMu.Unlock()

	defer func() {
		in.cmdMu.Lock()
		in.flushing = false
		in.cmdSig.signal()
		in.cmdMu.Unlock()
	}()

	for {
		if in.destroying.Load() || in.poison.Poisoned() || in.State().Transitional() || in.State() == Dead {
			return
		}
		in.cmdMu.Lock()
		if len(in.pending) == 0 {
			in.cmdMu.Unlock()
			return
		}
		pc := in.pending[0]
		in.pending[0] = PendingCommand{}
		in.pending = in.pending[1:]
		in.cmdMu.Unlock()
		in.metrics.PendingDone(1)

		in.logger.Debug("running deferred command", "command", pc.Command)
		res, err := in.dispatch(pc.Command, pc.Capture)
		if err != nil {
			in.logger.Debug("deferred command dropped", "command", pc.Command, "error", err)
			return
		}
		if pc.Capture {
			in.cmdMu.Lock()
			in.results = append(in.results, res)
			in.cmdMu.Unlock()
		}
	}
}

// discardPending drops every deferred command.
func (in *Instance) discardPending() int {
	in.cmdMu.Lock()
	n := len(in.pending)
	in.pending = nil
	in.cmdSig.signal()
	in.cmdMu.Unlock()
	in.metrics.PendingDone(n)
	return n
}

// Pending returns the number of deferred commands.
func (in *Instance) Pending() int {
	in.cmdMu.Lock()
	defer in.cmdMu.Unlock()
	return len(in.pending)
}

// PendingCommands returns a copy of the deferred commands in order.
func (in *Instance) PendingCommands() []PendingCommand {
	in.cmdMu.Lock()
	defer in.cmdMu.Unlock()
	return append([]PendingCommand(nil), in.pending...)
}

// TakeDeferredResults returns and clears the results of deferred commands
// that were issued with Capture.
func (in *Instance) TakeDeferredResults() []CommandResult {
	in.cmdMu.Lock()
	defer in.cmdMu.Unlock()
	out := in.results
	in.results = nil
	return out
}
