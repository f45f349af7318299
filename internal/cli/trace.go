package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/simbridge/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Kind     string // optional - filter markers to one event kind
}

// TraceResult holds the archive of one instance.
type TraceResult struct {
	Instance store.InstanceRecord  `json:"instance"`
	Markers  []store.MarkerRecord  `json:"markers"`
	Summary  []store.OutcomeCount  `json:"summary"`
	Vectors  []store.VectorRecord  `json:"vectors"`
	Teardown *store.TeardownRecord `json:"teardown,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [instance]",
		Short: "Inspect archived runs",
		Long: `Inspect the run archive written by "simbridge run --db".

Without an instance, lists every archived instance. With one, shows the
markers it retired in order (with their generation and outcome), the
outcome counts per event kind, its data snapshots and its teardown report.

Examples:
  simbridge trace --db ./runs.db
  simbridge trace --db ./runs.db basic-run-1
  simbridge trace --db ./runs.db basic-run-1 --kind send_data --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			instance := ""
			if len(args) == 1 {
				instance = args[0]
			}
			return runTrace(opts, instance, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter markers to one event kind")

	return cmd
}

func runTrace(opts *TraceOptions, instance string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// store.Open would create a missing database.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if instance == "" {
		insts, err := st.ReadInstances(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read instances", err)
		}
		if opts.Format == "json" {
			return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: insts})
		}
		return outputInstancesText(cmd.OutOrStdout(), insts)
	}

	result, err := readTrace(ctx, st, instance, opts.Kind)
	if errors.Is(err, store.ErrNotFound) {
		if opts.Format == "json" {
			_ = writeJSON(cmd.OutOrStdout(), CLIResponse{
				Status: "error",
				Error:  &CLIError{Code: ErrCodeNoSuchRecord, Message: err.Error()},
			})
		}
		return WrapExitError(ExitCommandError, "instance not archived", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read archive", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func readTrace(ctx context.Context, st *store.Store, instance, kind string) (TraceResult, error) {
	var result TraceResult
	var err error

	if result.Instance, err = st.ReadInstance(ctx, instance); err != nil {
		return result, err
	}
	markers, err := st.ReadMarkers(ctx, instance)
	if err != nil {
		return result, err
	}
	result.Markers = filterMarkers(markers, kind)
	if result.Summary, err = st.Summary(ctx, instance); err != nil {
		return result, err
	}
	if result.Vectors, err = st.ReadVectors(ctx, instance); err != nil {
		return result, err
	}

	td, err := st.ReadTeardown(ctx, instance)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return result, err
	default:
		result.Teardown = &td
	}
	return result, nil
}

func filterMarkers(markers []store.MarkerRecord, kind string) []store.MarkerRecord {
	if kind == "" {
		return markers
	}
	out := []store.MarkerRecord{}
	for _, m := range markers {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func outputInstancesText(w io.Writer, insts []store.InstanceRecord) error {
	if len(insts) == 0 {
		fmt.Fprintln(w, "No instances archived.")
		return nil
	}
	fmt.Fprintln(w, "=== Instances ===")
	for _, in := range insts {
		fmt.Fprintf(w, "  [%d] %s  scenario=%s fence=%s\n", in.Seq, in.ID, in.Scenario, in.Fence)
	}
	return nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Instance: %s\n", result.Instance.ID)
	fmt.Fprintf(w, "Scenario: %s (fence %s)\n", result.Instance.Scenario, result.Instance.Fence)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Markers ===")
	if len(result.Markers) == 0 {
		fmt.Fprintln(w, "  (no markers)")
	}
	for _, m := range result.Markers {
		fmt.Fprintf(w, "  [%d] %-15s gen %d %s", m.Seq, m.Kind, m.Generation, m.Outcome)
		if m.Rows > 0 {
			fmt.Fprintf(w, " rows=%d", m.Rows)
		}
		if verbose && m.Generation != m.CurrentGeneration {
			fmt.Fprintf(w, " (current gen %d)", m.CurrentGeneration)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Summary ===")
	for _, c := range result.Summary {
		fmt.Fprintf(w, "  %-15s %-8s %d\n", c.Kind, c.Outcome, c.Count)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Vectors ===")
	if len(result.Vectors) == 0 {
		fmt.Fprintln(w, "  (no snapshots)")
	}
	for _, v := range result.Vectors {
		fmt.Fprintf(w, "  gen %d digest %s\n", v.Generation, truncateID(v.Digest))
		if verbose {
			fmt.Fprintf(w, "       %s\n", v.Snapshot)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Teardown ===")
	if result.Teardown == nil {
		fmt.Fprintln(w, "  (not torn down)")
		return nil
	}
	fmt.Fprintf(w, "  Outcome: %s\n", result.Teardown.Outcome)
	if verbose {
		var report map[string]any
		if err := json.Unmarshal([]byte(result.Teardown.Report), &report); err == nil {
			fmt.Fprintf(w, "  Report: %s\n", formatArgs(report))
		}
	}
	return nil
}
