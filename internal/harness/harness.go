package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/simbridge/internal/bridge"
	"github.com/roach88/simbridge/internal/event"
	"github.com/roach88/simbridge/internal/metrics"
	"github.com/roach88/simbridge/internal/simulator"
	"github.com/roach88/simbridge/internal/store"
	"github.com/roach88/simbridge/internal/testutil"
)

// Options configures scenario execution.
type Options struct {
	// Config is the base bridge configuration; scenarios may override it.
	// Zero durations take the bridge defaults.
	Config bridge.Config

	// Logger receives bridge logs. Nil discards them.
	Logger *slog.Logger

	// Store archives each run when non-nil.
	Store *store.Store

	// Metrics records bridge activity when non-nil.
	Metrics *metrics.Bridge
}

// harness holds the per-run state of one scenario.
type harness struct {
	sc     *Scenario
	sim    *simulator.Simulator
	loop   *bridge.Loop
	in     *bridge.Instance
	poison *bridge.Poison
	clock  *testutil.DeterministicClock
	rec    *store.Recorder
	logger *slog.Logger

	destroyed bool
}

// Run executes a scenario against a fresh simulator and instance and
// returns the result. The error is non-nil only if the run could not be
// set up; failed expectations are reported in the result.
//
// Every run has its own Poison, so an abrupt death in one scenario does not
// leak into others. The calling goroutine is the instance's consumer.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("scenario", sc.Name)

	cfg, err := sc.Config.Apply(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	h := &harness{
		sc:     sc,
		sim:    simulator.New(sc.Engine.Script()),
		loop:   bridge.NewLoop(logger),
		poison: &bridge.Poison{},
		clock:  testutil.NewDeterministicClock(),
		logger: logger,
	}

	bopts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithConfig(cfg),
		bridge.WithPoison(h.poison),
		bridge.WithLibrary(h.sim),
		bridge.WithMetrics(opts.Metrics),
		bridge.WithIDGenerator(testutil.NewFixedIDGenerator(sc.Name)),
	}
	if opts.Store != nil {
		h.rec = store.NewRecorder(opts.Store, nil, sc.Name, logger)
		bopts = append(bopts, bridge.WithObserver(h.rec))
	}

	in, err := bridge.New(h.sim, h.loop, bopts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	h.in = in
	defer h.loop.Close()

	var archive string
	if h.rec != nil {
		if archive, err = h.rec.Register(in.ID(), cfg.Fence); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}

	result := NewResult(sc.Name)
	result.Instance = in.ID()
	result.Archive = archive

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			h.cleanup(result)
			return nil, err
		}
		sr := h.execute(step, result)
		if step.Expect != nil {
			for _, msg := range checkExpect(sr, *step.Expect) {
				result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, sr.Op, msg))
			}
		}
		result.Steps = append(result.Steps, sr)
	}

	if !h.destroyed {
		h.loop.Update()
	}
	result.Final = h.final()
	if h.rec != nil && !h.destroyed {
		if err := h.rec.Snapshot(in.ID(), in.Generation(), result.Final.Vectors); err != nil {
			result.AddError(fmt.Sprintf("archive: %v", err))
		}
	}

	actx := &AssertionContext{Instance: in, Simulator: h.sim, Poison: h.poison, Final: &result.Final}
	for _, msg := range EvaluateAssertions(actx, sc.Assertions) {
		result.AddError(msg)
	}

	h.cleanup(result)
	if h.rec != nil {
		if err := h.rec.Err(); err != nil {
			result.AddError(fmt.Sprintf("archive: %v", err))
		}
	}
	return result, nil
}

// cleanup destroys the instance unless a step already did.
func (h *harness) cleanup(result *Result) {
	if h.destroyed {
		return
	}
	result.Teardown = h.in.Destroy()
	h.destroyed = true
}

// execute runs one step on the calling goroutine.
func (h *harness) execute(step Step, result *Result) StepResult {
	sr := StepResult{Seq: h.clock.Next()}

	switch {
	case step.Command != "":
		sr.Op, sr.Arg = "command", step.Command
		res, err := h.in.Command(step.Command)
		fillCommand(&sr, res, err)

	case step.Capture != "":
		sr.Op, sr.Arg = "capture", step.Capture
		res, err := h.in.Capture(step.Capture)
		fillCommand(&sr, res, err)

	case step.Wait != nil:
		sr.Op, sr.Arg = "wait", step.Wait.Event
		h.wait(step.Wait, &sr)

	case step.Update:
		sr.Op = "update"
		sr.Processed = h.loop.Update()

	case step.Abort:
		sr.Op = "abort"
		h.in.Abort()

	case step.Destroy:
		sr.Op = "destroy"
		result.Teardown = h.in.Destroy()
		h.destroyed = true
		sr.Outcome = result.Teardown.Outcome()

	case step.Sleep > 0:
		sr.Op, sr.Arg = "sleep", step.Sleep.String()
		time.Sleep(step.Sleep)
	}

	h.logger.Debug("step executed", "seq", sr.Seq, "op", sr.Op, "arg", sr.Arg)
	return sr
}

func (h *harness) wait(w *WaitStep, sr *StepResult) {
	// Validated at load time.
	k, _ := event.ParseKind(w.Event)

	if w.AbortAfter > 0 {
		t := time.AfterFunc(w.AbortAfter, h.in.Abort)
		defer t.Stop()
	}

	var res event.WaitResult
	if w.Absolute {
		res = h.in.WaitSince(k, 0, w.Count, w.Timeout)
	} else {
		res = h.in.WaitFor(k, w.Count, w.Timeout)
	}
	sr.Status = res.Status.String()
	sr.Fired = res.Fired
	sr.Count = res.Count
	sr.Need = res.Need
}

func fillCommand(sr *StepResult, res bridge.CommandResult, err error) {
	if err != nil {
		sr.Error = errorCode(err)
		return
	}
	sr.RC = res.RC
	sr.Deferred = res.Deferred
	sr.Skipped = res.Skipped
	sr.Output = res.Output
	sr.Message = res.Message
}

func errorCode(err error) string {
	switch {
	case bridge.IsInvalidInput(err):
		return "invalid_input"
	case bridge.IsUnavailable(err):
		return "unavailable"
	}
	return "internal"
}

// final snapshots the instance.
func (h *harness) final() FinalState {
	in := h.in
	return FinalState{
		State:       in.State().String(),
		Generation:  in.Generation(),
		Counts:      in.Counts().Map(),
		Messages:    in.Messages(),
		Vectors:     in.Vectors(),
		InitVectors: in.InitVectors(),
		Pending:     in.Pending(),
		Poisoned:    h.poison.Poisoned(),
	}
}

// checkExpect compares a step result with its expectation.
func checkExpect(sr StepResult, e StepExpect) []string {
	var errs []string
	if e.Error != "" || sr.Error != "" {
		if sr.Error != e.Error {
			errs = append(errs, fmt.Sprintf("error = %q, want %q", sr.Error, e.Error))
		}
	}
	if e.RC != nil && sr.RC != *e.RC {
		errs = append(errs, fmt.Sprintf("rc = %d, want %d", sr.RC, *e.RC))
	}
	if e.Deferred != nil && sr.Deferred != *e.Deferred {
		errs = append(errs, fmt.Sprintf("deferred = %t, want %t", sr.Deferred, *e.Deferred))
	}
	if e.Skipped != nil && sr.Skipped != *e.Skipped {
		errs = append(errs, fmt.Sprintf("skipped = %t, want %t", sr.Skipped, *e.Skipped))
	}
	if e.Output != nil && strings.Join(sr.Output, "\n") != strings.Join(e.Output, "\n") {
		errs = append(errs, fmt.Sprintf("output = %q, want %q", sr.Output, e.Output))
	}
	if e.Status != "" && sr.Status != e.Status {
		errs = append(errs, fmt.Sprintf("status = %q, want %q", sr.Status, e.Status))
	}
	return errs
}

// RunAll runs scenarios concurrently, at most parallel at a time, and
// returns their results in input order. The first setup error cancels the
// remaining runs.
func RunAll(ctx context.Context, scenarios []*Scenario, parallel int, opts Options) ([]*Result, error) {
	if parallel < 1 {
		parallel = 1
	}
	if err := CheckUniqueNames(scenarios); err != nil {
		return nil, err
	}
	results := make([]*Result, len(scenarios))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, sc := range scenarios {
		g.Go(func() error {
			res, err := Run(ctx, sc, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
