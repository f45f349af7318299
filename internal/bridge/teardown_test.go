package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/simbridge/internal/event"
	"github.com/roach88/simbridge/internal/native"
	"github.com/roach88/simbridge/internal/simulator"
	"github.com/roach88/simbridge/internal/testutil"
)

func TestDestroy_IdleInstanceQuitsAndReclaims(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng, WithLibrary(eng))

	rep := f.in.Destroy()

	assert.False(t, rep.Skipped)
	assert.False(t, rep.Started)
	assert.False(t, rep.HaltSent)
	assert.True(t, rep.QuitSent)
	assert.False(t, rep.ExitSynthesized)
	assert.True(t, rep.Reclaimed)
	assert.Equal(t, "clean", rep.Outcome())
	assert.Equal(t, []string{native.CmdUnsetAskQuit, native.CmdQuit}, eng.Commands())
	assert.True(t, eng.isClosed())
	assert.True(t, f.in.Exited())
	assert.True(t, f.in.Destroying())
	assert.Equal(t, Dead, f.in.State())

	require.Len(t, f.obs.teardowns, 1)
	assert.Equal(t, "inst-1", f.obs.teardowns[0].Instance)
}

func TestDestroy_HaltsLiveWorker(t *testing.T) {
	sim := simulator.New(simulator.Script{Rows: 2, HoldUntilHalt: true})
	f := newInstance(t, sim, WithLibrary(sim))

	_, err := f.in.Command("bg_run")
	require.NoError(t, err)
	res := f.in.WaitSince(event.KindSendData, 0, 2, 2*time.Second)
	require.Equal(t, event.StatusOK, res.Status)
	// Counters move before the marker is queued.
	require.Eventually(t, func() bool { return f.loop.Len() == 4 }, time.Second, time.Millisecond)

	rep := f.in.Destroy()

	assert.True(t, rep.Started)
	assert.True(t, rep.Ended)
	assert.False(t, rep.Abrupt)
	assert.True(t, rep.HaltSent)
	assert.False(t, rep.HaltTimedOut)
	assert.True(t, rep.QuitSent)
	assert.True(t, rep.Reclaimed)
	assert.Equal(t, 4, rep.Purged, "started, init and two data markers")
	assert.Equal(t, int64(0), f.in.Leases())
	assert.Contains(t, sim.Commands(), native.CmdBackgroundHalt)
	assert.True(t, sim.Closed())
	assert.False(t, f.poison.Poisoned())
}

func TestDestroy_AbruptDeathPoisonsProcess(t *testing.T) {
	sim := simulator.New(simulator.Script{Rows: 5, DieAfterRows: 2})
	f := newInstance(t, sim, WithLibrary(sim))

	bystanderEng := newFakeEngine()
	bystander, err := New(bystanderEng, f.loop,
		WithLogger(quietLogger()),
		WithConfig(testConfig()),
		WithPoison(f.poison),
		WithIDGenerator(testutil.NewFixedIDGenerator("bystander")),
	)
	require.NoError(t, err)

	_, err = f.in.Command("bg_run")
	require.NoError(t, err)
	require.True(t, sim.WaitIdle(2*time.Second))

	rep := f.in.Destroy()

	assert.True(t, rep.Started)
	assert.True(t, rep.Abrupt)
	assert.True(t, rep.Poisoned)
	assert.False(t, rep.QuitSent)
	assert.True(t, rep.ExitSynthesized)
	assert.True(t, rep.UnloadForbidden)
	assert.False(t, rep.Reclaimed)
	assert.Equal(t, "abrupt", rep.Outcome())
	assert.Equal(t, []string{native.CmdBackgroundRun}, sim.Commands())
	assert.False(t, sim.Closed())
	assert.True(t, f.poison.Poisoned())
	assert.Contains(t, f.poison.Cause(), "inst-1")

	// Everything sharing the poison stays away from the engine.
	assert.False(t, bystander.IsRunning())
	res, err := bystander.Command("echo hi")
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	brep := bystander.Destroy()
	assert.True(t, brep.Skipped)
	assert.True(t, brep.Poisoned)
	assert.Equal(t, "poisoned", brep.Outcome())
	assert.Empty(t, bystanderEng.Commands())

	_, err = New(newFakeEngine(), f.loop, WithPoison(f.poison), WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestDestroy_PoisonedByAnotherInstanceDuringLivenessCheck(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng, WithLibrary(eng))
	eng.onRunning = func(int64) { f.poison.Set("other instance died") }

	rep := f.in.Destroy()

	assert.True(t, f.poison.Poisoned())
	assert.Empty(t, eng.Commands(), "no quit once poisoned")
	assert.False(t, rep.Skipped)
	assert.True(t, rep.Poisoned)
	assert.False(t, rep.Abrupt)
	assert.False(t, rep.QuitSent)
	assert.True(t, rep.ExitSynthesized)
	assert.True(t, rep.UnloadForbidden)
	assert.False(t, rep.Reclaimed)
	assert.Equal(t, "leaked", rep.Outcome())
	assert.False(t, eng.isClosed())
	assert.True(t, f.in.Exited())
	assert.True(t, f.in.UnloadForbidden())
}

func TestDestroy_PoisonedByAnotherInstanceDuringHalt(t *testing.T) {
	eng := newFakeEngine()
	eng.running.Store(true)
	f := newInstance(t, eng, WithLibrary(eng))
	eng.handler().BackgroundRunning(true, 0)
	// Calls 1 and 2 are the liveness check and the first halt; the worker
	// is still up when the process gets poisoned on call 3.
	eng.onRunning = func(n int64) {
		if n == 3 {
			f.poison.Set("other instance died")
		}
	}

	rep := f.in.Destroy()

	assert.True(t, rep.Started)
	assert.True(t, rep.HaltSent)
	assert.False(t, rep.QuitSent)
	assert.True(t, rep.Poisoned)
	assert.True(t, rep.ExitSynthesized)
	assert.True(t, rep.UnloadForbidden)
	assert.False(t, rep.Reclaimed)
	assert.Equal(t, []string{native.CmdBackgroundHalt}, eng.Commands(), "halt is not reissued after the poison")
	assert.False(t, eng.isClosed())
}

func TestDestroy_EngineIgnoringQuit(t *testing.T) {
	eng := newFakeEngine()
	eng.ignoreQuit = true
	f := newInstance(t, eng, WithLibrary(eng))

	start := time.Now()
	rep := f.in.Destroy()

	assert.GreaterOrEqual(t, time.Since(start), testConfig().ExitTimeout)
	assert.True(t, rep.QuitSent)
	assert.True(t, rep.ExitSynthesized)
	assert.True(t, rep.UnloadForbidden)
	assert.True(t, rep.Reclaimed)
	assert.False(t, eng.isClosed(), "library stays loaded")
	assert.True(t, f.in.Exited())
}

func TestDestroy_ReentryIsSkipped(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)

	first := f.in.Destroy()
	second := f.in.Destroy()

	assert.False(t, first.Skipped)
	assert.True(t, second.Skipped)
	assert.Equal(t, "reentry", second.Outcome())
	assert.Equal(t, []string{native.CmdUnsetAskQuit, native.CmdQuit}, eng.Commands())
}

func TestDestroy_ReclaimWaitsForLastLease(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng, WithLibrary(eng))

	f.in.preserve()
	rep := f.in.Destroy()

	assert.False(t, rep.Reclaimed)
	assert.True(t, rep.ReclaimDeferred)
	assert.False(t, f.in.Reclaimed())
	assert.False(t, eng.isClosed())

	f.in.release()
	assert.True(t, f.in.Reclaimed())
	assert.True(t, eng.isClosed())
}

func TestDestroy_DropsPendingCommands(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)

	_, err := f.in.Command("bg_run")
	require.NoError(t, err)
	_, err = f.in.Command("echo never")
	require.NoError(t, err)
	require.Equal(t, 1, f.in.Pending())

	rep := f.in.Destroy()

	assert.Equal(t, 1, rep.PendingDropped)
	assert.False(t, rep.Started, "worker never reported in")
	assert.Equal(t, 0, f.in.Pending())
	assert.Equal(t, []string{native.CmdBackgroundRun, native.CmdUnsetAskQuit, native.CmdQuit}, eng.Commands())
}

func TestDestroy_LateCallbacksAreIgnored(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	h := eng.handler()

	f.in.Destroy()
	h.SendChar("late", 0)
	h.SendData(rowOf("v1", 1), 1, 0)

	assert.Equal(t, 0, f.loop.Len())
	assert.Equal(t, int64(0), f.in.Leases())
	assert.Empty(t, f.in.Messages())
	assert.Equal(t, uint64(0), f.in.Counts().Get(event.KindSendData))
}

func TestTeardownReport_Outcome(t *testing.T) {
	tests := []struct {
		rep  TeardownReport
		want string
	}{
		{TeardownReport{}, "clean"},
		{TeardownReport{Skipped: true}, "reentry"},
		{TeardownReport{Skipped: true, Poisoned: true}, "poisoned"},
		{TeardownReport{Abrupt: true, Poisoned: true}, "abrupt"},
		{TeardownReport{Poisoned: true}, "leaked"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.rep.Outcome())
	}
}
