package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/simbridge/internal/harness"
	"github.com/roach88/simbridge/internal/metrics"
	"github.com/roach88/simbridge/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Parallel int
	Metrics  bool
	Filter   string // scenario filter (glob pattern on the file name)
	Update   bool   // regenerate golden files
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name     string   `json:"name"`
	Instance string   `json:"instance,omitempty"`
	Archive  string   `json:"archive,omitempty"`
	Pass     bool     `json:"pass"`
	Teardown string   `json:"teardown,omitempty"`
	Golden   string   `json:"golden,omitempty"` // "match", "updated" or "mismatch"
	Errors   []string `json:"errors,omitempty"`
}

// RunResult holds the overall run result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
	Metrics   []metrics.Sample `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <file|dir>",
		Short: "Run scenarios against the simulated engine",
		Long: `Run one scenario file, or every scenario in a directory, against the
simulated engine.

Scenarios in a directory run concurrently. When a golden file exists at
<dir>/golden/<name>.golden the run's canonical snapshot must match it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreadable scenarios, etc.)

Examples:
  simbridge run ./scenarios
  simbridge run ./scenarios --filter "halt-*" --parallel 2
  simbridge run ./scenarios/basic-run.yaml --db ./runs.db --metrics
  simbridge run ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "archive runs to this SQLite database (default: store.path)")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "scenarios run at once (default: harness.parallel)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print bridge metrics after the run")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runScenarios(opts *RunOptions, path string, cmd *cobra.Command) error {
	cfg := opts.cfg()
	logger := opts.logger()

	info, err := os.Stat(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario path not found", err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = findScenarioFiles(path, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
	}
	if len(files) == 0 {
		if opts.Format == "json" {
			return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: RunResult{Scenarios: []ScenarioResult{}}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	scenarios := make([]*harness.Scenario, len(files))
	for i, f := range files {
		sc, err := harness.LoadScenario(f)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load scenario", err)
		}
		scenarios[i] = sc
	}
	if err := harness.CheckUniqueNames(scenarios); err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	base, err := cfg.Bridge.ToBridge()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid bridge config", err)
	}
	hopts := harness.Options{Config: base, Logger: logger}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Store.Path
	}
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		hopts.Store = st
	}

	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		m, err := metrics.New(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		hopts.Metrics = m
	}

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = cfg.Harness.Parallel
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("running scenarios", "count", len(scenarios), "parallel", parallel, "db", dbPath)
	results, err := harness.RunAll(ctx, scenarios, parallel, hopts)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario run aborted", err)
	}

	out := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(results)),
		Total:     len(results),
	}
	for i, res := range results {
		sr := ScenarioResult{
			Name:     res.Scenario,
			Instance: res.Instance,
			Archive:  res.Archive,
			Pass:     res.Pass,
			Teardown: res.Teardown.Outcome(),
			Errors:   res.Errors,
		}
		checkGolden(&sr, res, files[i], opts.Update)
		if sr.Pass {
			out.Passed++
		} else {
			out.Failed++
		}
		out.Scenarios = append(out.Scenarios, sr)
	}

	if reg != nil {
		samples, err := metrics.Summary(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
		out.Metrics = samples
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, out)
	}
	return outputRunText(cmd, out, opts.Verbose)
}

// findScenarioFiles finds all YAML scenario files in a directory, skipping
// its golden subdirectory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path != dir && info.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// checkGolden compares the run snapshot with its golden file, or rewrites
// the file when update is set. Scenarios without a golden file are judged
// on their assertions alone.
func checkGolden(sr *ScenarioResult, res *harness.Result, scenarioFile string, update bool) {
	fail := func(msg string) {
		sr.Pass = false
		sr.Errors = append(sr.Errors, msg)
	}

	snapshot, err := res.Snapshot()
	if err != nil {
		fail(fmt.Sprintf("snapshot: %v", err))
		return
	}
	path := goldenFilePath(scenarioFile, res.Scenario)

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			fail(fmt.Sprintf("failed to create golden directory: %v", err))
			return
		}
		if err := os.WriteFile(path, snapshot, 0644); err != nil {
			fail(fmt.Sprintf("failed to write golden file: %v", err))
			return
		}
		sr.Golden = "updated"
		return
	}

	golden, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		fail(fmt.Sprintf("failed to read golden file: %v", err))
		return
	}
	if !bytes.Equal(golden, snapshot) {
		sr.Golden = "mismatch"
		fail("snapshot does not match golden file (run with --update to regenerate)")
		return
	}
	sr.Golden = "match"
}

// outputRunJSON outputs the run result as JSON.
func outputRunJSON(cmd *cobra.Command, result RunResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputRunText outputs the run result as text.
func outputRunText(cmd *cobra.Command, result RunResult, verbose bool) error {
	w := cmd.OutOrStdout()

	for _, sr := range result.Scenarios {
		if sr.Pass {
			fmt.Fprintf(w, "✓ %s", sr.Name)
		} else {
			fmt.Fprintf(w, "✗ %s", sr.Name)
		}
		if verbose {
			fmt.Fprintf(w, " [%s, teardown %s]", sr.Instance, sr.Teardown)
		}
		if sr.Archive != "" && sr.Archive != sr.Instance {
			fmt.Fprintf(w, " (archived as %s)", sr.Archive)
		}
		if sr.Golden == "updated" {
			fmt.Fprint(w, " (golden updated)")
		}
		fmt.Fprintln(w)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimSpace(e), "\n", "\n  "))
		}
	}

	if len(result.Metrics) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Metrics ===")
		for _, s := range result.Metrics {
			fmt.Fprintf(w, "  %s %g\n", s.Name, s.Value)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
