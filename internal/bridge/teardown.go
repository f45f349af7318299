package bridge

import (
	"time"

	"github.com/roach88/simbridge/internal/native"
)

// TeardownReport records what a Destroy call did.
type TeardownReport struct {
	Instance string `json:"instance"`
	// Skipped is true for re-entry or a poisoned process: only pending
	// commands were dropped and waiters woken.
	Skipped bool `json:"skipped"`
	// Started and Ended are the worker observations the classification
	// used.
	Started bool `json:"started"`
	Ended   bool `json:"ended"`
	// Abrupt means the worker vanished without reporting its end; the
	// process is now poisoned.
	Abrupt   bool `json:"abrupt"`
	Poisoned bool `json:"poisoned"`
	HaltSent bool `json:"halt_sent"`
	// HaltTimedOut means the worker did not report "ended" in time.
	HaltTimedOut    bool `json:"halt_timed_out"`
	QuitSent        bool `json:"quit_sent"`
	ExitSynthesized bool `json:"exit_synthesized"`
	UnloadForbidden bool `json:"unload_forbidden"`
	// PendingDropped counts discarded deferred commands.
	PendingDropped int `json:"pending_dropped"`
	// Purged counts queued markers dropped from the loop.
	Purged int `json:"purged"`
	// Reclaimed is true if resources were released before Destroy
	// returned; otherwise reclamation waits for outstanding leases
	// (ReclaimDeferred) or never happens (poisoned).
	Reclaimed       bool `json:"reclaimed"`
	ReclaimDeferred bool `json:"reclaim_deferred"`
}

// Outcome summarises the report for metrics and logs.
func (r TeardownReport) Outcome() string {
	switch {
	case r.Skipped && r.Poisoned:
		return "poisoned"
	case r.Skipped:
		return "reentry"
	case r.Abrupt:
		return "abrupt"
	case r.Poisoned:
		return "leaked"
	default:
		return "clean"
	}
}

// Canonical returns the report as a generic map for canonical JSON, keyed
// like its JSON form.
func (r TeardownReport) Canonical() map[string]any {
	return map[string]any{
		"instance":         r.Instance,
		"outcome":          r.Outcome(),
		"skipped":          r.Skipped,
		"started":          r.Started,
		"ended":            r.Ended,
		"abrupt":           r.Abrupt,
		"poisoned":         r.Poisoned,
		"halt_sent":        r.HaltSent,
		"halt_timed_out":   r.HaltTimedOut,
		"quit_sent":        r.QuitSent,
		"exit_synthesized": r.ExitSynthesized,
		"unload_forbidden": r.UnloadForbidden,
		"pending_dropped":  r.PendingDropped,
		"purged":           r.Purged,
		"reclaimed":        r.Reclaimed,
		"reclaim_deferred": r.ReclaimDeferred,
	}
}

// Destroy tears the instance down. It always completes and never calls
// into the engine once the process is poisoned.
//
// Sequence: stop accepting work, mark Dead, drop deferred commands, probe
// for the worker, classify an abrupt death (poisoning the process), halt a
// live worker, ask the engine to quit when safe or synthesize its exit,
// wait for the exit, purge queued markers, wake waiters, then either leak
// the instance (poisoned) or reclaim it once no marker lease remains.
func (in *Instance) Destroy() TeardownReport {
	rep := TeardownReport{Instance: in.id}

	if in.poison.Poisoned() {
		in.destroying.Store(true)
		in.setDead()
		rep.Skipped, rep.Poisoned = true, true
		rep.PendingDropped = in.discardPending()
		in.wakeWaiters()
		return in.finishTeardown(rep)
	}
	if !in.destroying.CompareAndSwap(false, true) {
		rep.Skipped = true
		rep.PendingDropped = in.discardPending()
		in.wakeWaiters()
		return in.finishTeardown(rep)
	}

	in.logger.Info("teardown starting")
	in.wakeWaiters()

	prev := in.setDead()
	rep.PendingDropped = in.discardPending()

	// An instance that was idle has no worker to wait for, unless one
	// already reported in.
	rep.Started = in.bgFlags().started
	if !rep.Started && prev != Idle {
		rep.Started = in.waitStarted(in.cfg.StartProbe)
	}
	rep.Ended = in.bgFlags().ended
	if in.poison.Poisoned() {
		return in.abandon(rep)
	}
	running := in.engine.Running()
	if in.poison.Poisoned() {
		return in.abandon(rep)
	}

	if rep.Started && !running && !rep.Ended {
		rep.Abrupt = true
		in.unloadForbidden.Store(true)
		if in.poison.Set("background worker of instance " + in.id + " died without reporting its end") {
			in.metrics.Poisoned()
		}
		in.logger.Error("background worker died abruptly; native engine poisoned")
	}

	if rep.Started && !rep.Ended && !rep.Abrupt {
		rep.HaltSent = true
		rep.Ended = in.quiesce()
		rep.HaltTimedOut = !rep.Ended
		if in.poison.Poisoned() {
			return in.abandon(rep)
		}
	} else {
		in.markEnded()
		rep.Ended = true
	}

	in.exitMu.Lock()
	safeToQuit := !in.exited && !rep.Abrupt && !in.poison.Poisoned()
	if safeToQuit {
		in.quitting = true
	} else if !in.exited {
		in.exited = true
		in.exitSig.signal()
		rep.ExitSynthesized = true
	}
	in.exitMu.Unlock()

	if safeToQuit {
		in.engine.Command(native.CmdUnsetAskQuit)
		in.engine.Command(native.CmdQuit)
		rep.QuitSent = true
		if !in.waitExited(in.cfg.ExitTimeout) {
			in.logger.Warn("engine did not report exit; synthesizing it", "timeout", in.cfg.ExitTimeout)
			in.exitMu.Lock()
			in.exited = true
			in.quitting = false
			in.exitSig.signal()
			in.exitMu.Unlock()
			rep.ExitSynthesized = true
			in.unloadForbidden.Store(true)
		}
	} else {
		in.unloadForbidden.Store(true)
	}

	rep.Purged = in.loop.Purge(in)
	in.wakeWaiters()

	rep.UnloadForbidden = in.unloadForbidden.Load()
	if rep.Abrupt || in.poison.Poisoned() {
		rep.Poisoned = true
		in.logger.Warn("instance leaked: process is poisoned")
		return in.finishTeardown(rep)
	}

	rep.Reclaimed = in.eventuallyFree()
	rep.ReclaimDeferred = !rep.Reclaimed
	return in.finishTeardown(rep)
}

// abandon finishes a teardown that found the process poisoned by someone
// else part way through: no further engine calls, exit synthesized, the
// instance leaked.
func (in *Instance) abandon(rep TeardownReport) TeardownReport {
	in.logger.Warn("process poisoned during teardown; abandoning engine", "cause", in.poison.Cause())
	in.markEnded()
	in.exitMu.Lock()
	if !in.exited {
		in.exited = true
		in.quitting = false
		in.exitSig.signal()
		rep.ExitSynthesized = true
	}
	in.exitMu.Unlock()
	in.unloadForbidden.Store(true)

	rep.Purged = in.loop.Purge(in)
	in.wakeWaiters()

	rep.UnloadForbidden = true
	rep.Poisoned = true
	return in.finishTeardown(rep)
}

func (in *Instance) finishTeardown(rep TeardownReport) TeardownReport {
	in.metrics.Teardown(rep.Outcome())
	in.logger.Info("teardown finished",
		"outcome", rep.Outcome(),
		"quit_sent", rep.QuitSent,
		"exit_synthesized", rep.ExitSynthesized,
		"purged", rep.Purged,
		"reclaimed", rep.Reclaimed,
	)
	if in.observer != nil {
		in.observer.TeardownFinished(rep)
	}
	return rep
}

// setDead forces the Dead state and returns the previous state.
func (in *Instance) setDead() State {
	in.bgMu.Lock()
	defer in.bgMu.Unlock()
	prev := in.state
	in.state = Dead
	in.bgSig.signal()
	return prev
}

type bgFlags struct {
	started, ended bool
}

func (in *Instance) bgFlags() bgFlags {
	in.bgMu.Lock()
	defer in.bgMu.Unlock()
	return bgFlags{started: in.bgStarted, ended: in.bgEnded}
}

func (in *Instance) markEnded() {
	in.bgMu.Lock()
	in.bgEnded = true
	in.bgSig.signal()
	in.bgMu.Unlock()
}

// waitStarted waits up to d for the worker to report "started". A live
// probe counts as started.
func (in *Instance) waitStarted(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		in.bgMu.Lock()
		started := in.bgStarted
		wake := in.bgSig.wait()
		in.bgMu.Unlock()

		if started {
			return true
		}
		if in.poison.Poisoned() {
			return false
		}
		if in.engine.Running() {
			in.bgMu.Lock()
			in.bgStarted = true
			in.bgMu.Unlock()
			return true
		}

		select {
		case <-wake:
		case <-timer.C:
			return false
		}
	}
}

// quiesce asks a live worker to halt and waits up to HaltTimeout for it to
// report "ended", re-sending the halt every HaltReissue. A probe that
// reports the worker gone also counts as ended. Returns false on timeout or
// once the process is poisoned.
func (in *Instance) quiesce() bool {
	if in.poison.Poisoned() {
		return false
	}
	if in.engine.Running() {
		in.engine.Command(native.CmdBackgroundHalt)
	}
	lastHalt := time.Now()

	poll := time.NewTicker(in.cfg.PollSlice)
	defer poll.Stop()
	deadline := time.NewTimer(in.cfg.HaltTimeout)
	defer deadline.Stop()

	for {
		in.bgMu.Lock()
		ended := in.bgEnded
		wake := in.bgSig.wait()
		in.bgMu.Unlock()

		if ended {
			return true
		}
		if in.poison.Poisoned() {
			return false
		}
		if !in.engine.Running() {
			in.markEnded()
			return true
		}

		select {
		case <-wake:
		case <-poll.C:
			if time.Since(lastHalt) >= in.cfg.HaltReissue && !in.poison.Poisoned() {
				in.engine.Command(native.CmdBackgroundHalt)
				lastHalt = time.Now()
			}
		case <-deadline.C:
			in.logger.Warn("background worker did not stop in time", "timeout", in.cfg.HaltTimeout)
			return false
		}
	}
}

// waitExited waits up to d for the engine's exit report.
func (in *Instance) waitExited(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		in.exitMu.Lock()
		exited := in.exited
		wake := in.exitSig.wait()
		in.exitMu.Unlock()

		if exited {
			return true
		}
		select {
		case <-wake:
		case <-timer.C:
			return false
		}
	}
}
