package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/simbridge/internal/event"
)

func TestCommand_EmptyIsInputError(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)

	_, err := f.in.Command("   ")
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
	assert.Empty(t, eng.Commands())
	assert.Equal(t, Idle, f.in.State())
}

func TestCommand_DeferredDuringStartAndFlushedInOrder(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)

	res, err := f.in.Command("bg_run")
	require.NoError(t, err)
	assert.False(t, res.Deferred)
	assert.Equal(t, StartingBackground, f.in.State())

	for _, cmd := range []string{"alter r1 2k", "echo one", "show all"} {
		res, err := f.in.Command(cmd)
		require.NoError(t, err)
		assert.True(t, res.Deferred, cmd)
		assert.Contains(t, res.Message, "background thread is starting")
	}
	assert.Equal(t, 3, f.in.Pending())
	assert.Equal(t, []string{"bg_run"}, eng.Commands(), "nothing reaches the engine while starting")

	eng.handler().BackgroundRunning(true, 0)
	assert.Equal(t, BackgroundActive, f.in.State())

	f.loop.Update()
	assert.Equal(t, []string{"bg_run", "alter r1 2k", "echo one", "show all"}, eng.Commands())
	assert.Equal(t, 0, f.in.Pending())
}

func TestCommand_DeferredDuringStopAndFlushedOnEnd(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	h := eng.handler()

	_, err := f.in.Command("bg_run")
	require.NoError(t, err)
	h.BackgroundRunning(true, 0)
	_, err = f.in.Command("bg_halt")
	require.NoError(t, err)
	assert.Equal(t, StoppingBackground, f.in.State())

	res, err := f.in.Command("echo later")
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.Contains(t, res.Message, "stopping")

	h.BackgroundRunning(false, 0)
	assert.Equal(t, Idle, f.in.State())
	f.loop.Update()
	assert.Equal(t, []string{"bg_run", "bg_halt", "echo later"}, eng.Commands())
}

func TestCommand_PendingFlushedBeforeNextCommand(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)

	_, err := f.in.Command("bg_run")
	require.NoError(t, err)
	_, err = f.in.Command("first")
	require.NoError(t, err)
	eng.handler().BackgroundRunning(true, 0)

	// The started marker has not been processed yet.
	res, err := f.in.Command("second")
	require.NoError(t, err)
	assert.False(t, res.Deferred)
	assert.Equal(t, []string{"bg_run", "first", "second"}, eng.Commands())
}

func TestCommand_FlushedRunRedefersTheRest(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	h := eng.handler()

	_, err := f.in.Command("bg_run")
	require.NoError(t, err)
	h.BackgroundRunning(true, 0)
	_, err = f.in.Command("bg_halt")
	require.NoError(t, err)
	for _, cmd := range []string{"bg_run", "after"} {
		_, err := f.in.Command(cmd)
		require.NoError(t, err)
	}
	h.BackgroundRunning(false, 0)
	f.loop.Update()

	assert.Equal(t, []string{"bg_run", "bg_halt", "bg_run"}, eng.Commands())
	assert.Equal(t, StartingBackground, f.in.State())
	assert.Equal(t, []PendingCommand{{Command: "after"}}, f.in.PendingCommands())
}

func TestCommand_RunOpensNewGeneration(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	h := eng.handler()

	h.SendData(rowOf("v1", 1), 1, 0)
	f.loop.Update()
	require.Equal(t, 1, f.in.Vectors().Count("v1"))

	_, err := f.in.Command("bg_run")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.in.Generation())
	assert.Equal(t, 0, f.in.Vectors().Len(), "tables restart empty")
	assert.Equal(t, 0, f.in.InitVectors().Len())
}

func TestCommand_RefusedRunReturnsToIdle(t *testing.T) {
	eng := newFakeEngine()
	eng.rc["bg_run"] = 1
	f := newInstance(t, eng)

	res, err := f.in.Command("bg_run")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RC)
	assert.Equal(t, Idle, f.in.State())

	res, err = f.in.Command("echo ok")
	require.NoError(t, err)
	assert.False(t, res.Deferred)
}

func TestCapture_ReturnsOnlyCommandOutput(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	h := eng.handler()

	h.SendChar("earlier", 0)
	res, err := f.in.Capture("echo hello")
	require.NoError(t, err)
	h.SendChar("later", 0)

	assert.Equal(t, 0, res.RC)
	assert.Equal(t, []string{"stdout hello"}, res.Output)
	assert.Equal(t, []string{"earlier", "stdout hello", "later"}, f.in.Messages())
}

func TestCapture_DeferredResultsCollected(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)

	_, err := f.in.Command("bg_run")
	require.NoError(t, err)
	res, err := f.in.Capture("echo deferred")
	require.NoError(t, err)
	require.True(t, res.Deferred)
	assert.Empty(t, res.Output)

	eng.handler().BackgroundRunning(true, 0)
	f.loop.Update()

	results := f.in.TakeDeferredResults()
	require.Len(t, results, 1)
	assert.Equal(t, []string{"stdout deferred"}, results[0].Output)
	assert.Empty(t, f.in.TakeDeferredResults())
}

func TestCommand_AfterDestroyIsUnavailable(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	f.in.Destroy()
	before := len(eng.Commands())

	_, err := f.in.Command("echo nope")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Len(t, eng.Commands(), before)
	assert.Equal(t, Dead, f.in.State())
}

// A teardown can mark the instance Dead between Command's state check and
// dispatch; the lifecycle commands must not bring it back.
func TestDispatch_DeadInstanceStaysDead(t *testing.T) {
	for _, cmd := range []string{"bg_run", "bg_halt"} {
		t.Run(cmd, func(t *testing.T) {
			eng := newFakeEngine()
			f := newInstance(t, eng)
			genBefore := f.in.Generation()
			f.in.setDead()

			_, err := f.in.dispatch(cmd, false)
			require.Error(t, err)
			assert.True(t, IsUnavailable(err))
			assert.Equal(t, Dead, f.in.State())
			assert.Equal(t, genBefore, f.in.Generation())
			assert.Empty(t, eng.Commands())
		})
	}
}

func TestBeginRun_RefusesDeadInstance(t *testing.T) {
	f := newInstance(t, newFakeEngine())
	f.in.setDead()

	prev, ok := f.in.beginRun()
	assert.False(t, ok)
	assert.Equal(t, Dead, prev)
	assert.Equal(t, Dead, f.in.State())
}

func TestCommand_PoisonedSkipsEngine(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	f.poison.Set("test")

	res, err := f.in.Command("echo hi")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, eng.Commands())
	assert.False(t, f.in.IsRunning())
}

func TestCounters_ClearAndMessages(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	h := eng.handler()

	h.SendChar("a", 0)
	h.SendStat("50%", 3)
	counts := f.in.Counts()
	assert.Equal(t, uint64(1), counts.Get(event.KindSendChar))
	assert.Equal(t, uint64(1), counts.Get(event.KindSendStat))
	assert.Equal(t, []string{"a", "# status[3]: 50%"}, f.in.Messages())

	f.in.ClearCounts()
	f.in.ClearMessages()
	assert.Equal(t, event.Counts{}, f.in.Counts())
	assert.Empty(t, f.in.Messages())
}

func TestStatusLineTruncated(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	eng.handler().SendStat(string(long), 0)
	msgs := f.in.Messages()
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0], maxStatusLine)
	assert.Equal(t, "# status[0]: xxx", msgs[0][:16])
}

func TestTruncate_RuneBoundary(t *testing.T) {
	assert.Equal(t, "ab", truncate("abé", 3))
	assert.Equal(t, "abé", truncate("abé", 4))
	assert.Equal(t, "short", truncate("short", 10))
}

func TestBackgroundAnnotations(t *testing.T) {
	eng := newFakeEngine()
	f := newInstance(t, eng)
	h := eng.handler()

	_, err := f.in.Command("bg_run")
	require.NoError(t, err)
	h.BackgroundRunning(true, 0)
	h.BackgroundRunning(false, 0)

	assert.Equal(t, []string{
		"# background thread running started",
		"# background thread running ended",
	}, f.in.Messages())
	assert.Equal(t, uint64(2), f.in.Counts().Get(event.KindBGRunning))
	assert.Equal(t, Idle, f.in.State())
}

func TestState_StringsRoundTrip(t *testing.T) {
	for st := Idle; st <= Dead; st++ {
		got, ok := ParseState(st.String())
		require.True(t, ok)
		assert.Equal(t, st, got)
	}
	_, ok := ParseState("sleeping")
	assert.False(t, ok)
	assert.True(t, StartingBackground.Transitional())
	assert.False(t, BackgroundActive.Transitional())
}
