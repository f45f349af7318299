package bridge

import (
	"time"

	"github.com/roach88/simbridge/internal/event"
)

// WaitFor blocks until counter k has advanced by need (0 means 1) since the
// call began, an Abort or teardown interrupts it, or timeout elapses.
// A timeout <= 0 waits indefinitely.
func (in *Instance) WaitFor(k event.Kind, need uint64, timeout time.Duration) event.WaitResult {
	return in.wait(k, 0, false, need, timeout)
}

// WaitSince is WaitFor with the target anchored at base, an absolute count
// observed earlier (for example from Counts before issuing bg_run). It
// returns at once if the target is already met.
func (in *Instance) WaitSince(k event.Kind, base, need uint64, timeout time.Duration) event.WaitResult {
	return in.wait(k, base, true, need, timeout)
}

// WaitEvent is WaitFor keyed by event name, for command-surface callers.
func (in *Instance) WaitEvent(name string, need uint64, timeout time.Duration) (event.WaitResult, error) {
	k, err := event.ParseKind(name)
	if err != nil {
		return event.WaitResult{}, newInputError(in.id, "%v", err)
	}
	return in.WaitFor(k, need, timeout), nil
}

func (in *Instance) wait(k event.Kind, base uint64, anchored bool, need uint64, timeout time.Duration) event.WaitResult {
	if need == 0 {
		need = 1
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	res := event.WaitResult{Need: need}

	in.mu.Lock()
	if !anchored {
		base = in.counts.Get(k)
	}
	target := base + need
	aborts := in.abortSeq

	for {
		res.Count = in.counts.Get(k)
		if res.Count >= target {
			res.Fired = true
			res.Status = event.StatusOK
			break
		}
		if in.abortSeq != aborts || in.destroying.Load() {
			res.Status = event.StatusAborted
			break
		}

		wake := in.sig.wait()
		in.mu.Unlock()

		timedOut := false
		select {
		case <-wake:
		case <-expired:
			timedOut = true
		}

		in.mu.Lock()
		if timedOut {
			res.Count = in.counts.Get(k)
			res.Fired = res.Count >= target
			res.Status = event.StatusTimeout
			if res.Fired {
				res.Status = event.StatusOK
			}
			break
		}
	}
	in.mu.Unlock()

	in.metrics.Wait(res.Status.String())
	return res
}

// Abort interrupts every wait in progress; each returns StatusAborted.
// Waits begun afterwards are unaffected.
func (in *Instance) Abort() {
	in.mu.Lock()
	in.abortSeq++
	in.sig.signal()
	in.mu.Unlock()
	in.logger.Debug("waits aborted")
}

// wakeWaiters signals every waiter so it re-checks the teardown flag.
func (in *Instance) wakeWaiters() {
	in.mu.Lock()
	in.sig.signal()
	in.mu.Unlock()
}
