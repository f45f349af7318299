// Package native describes the engine collaborator the bridge drives: a
// command entry point, a liveness probe, and six callbacks that the
// engine's background worker invokes asynchronously.
//
// Loading the shared library and resolving its symbols happen elsewhere;
// this package only fixes the contract.
package native

// VecValue is one cell of a data callback.
type VecValue struct {
	Name    string
	Real    float64
	Imag    float64
	Complex bool
}

// VecInfo describes one vector announced by the init-data callback.
type VecInfo struct {
	Name   string
	Number int
	Real   bool
}

// Handler receives engine callbacks. Methods may be invoked from the
// engine's worker goroutine or, for synchronous output, from whichever
// goroutine issued the command. Implementations must not block for long
// and never report errors back to the engine.
type Handler interface {
	// SendChar delivers one line of text output.
	SendChar(msg string, id int)
	// SendStat delivers a status/progress string.
	SendStat(msg string, id int)
	// ControlledExit reports that the engine has exited or is exiting.
	ControlledExit(status int, immediate, quitUponExit bool, id int)
	// SendData delivers one batch of row values; count is the number of
	// batches represented (zero or negative means nothing to record).
	SendData(values []VecValue, count, id int)
	// SendInitData announces the vectors of a new run.
	SendInitData(vecs []VecInfo, id int)
	// BackgroundRunning reports the worker starting (true) or ending (false).
	BackgroundRunning(running bool, id int)
}

// Engine is the native engine's control surface.
type Engine interface {
	// Init registers the callback handler. Called once before any command.
	Init(h Handler) error
	// Command executes a control command and returns its status code
	// (0 on success).
	Command(cmd string) int
	// Running is the liveness probe for the background worker.
	Running() bool
}

// Library is the loaded shared object backing an Engine.
type Library interface {
	// Close unloads the library. It must not be called while the engine's
	// worker might still touch library state.
	Close() error
}

// Control commands the bridge issues or interprets itself.
const (
	CmdBackgroundRun  = "bg_run"
	CmdBackgroundHalt = "bg_halt"
	CmdQuit           = "quit"
	CmdUnsetAskQuit   = "unset askquit"
)
