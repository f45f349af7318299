package harness

import (
	"github.com/roach88/simbridge/internal/bridge"
	"github.com/roach88/simbridge/internal/vector"
)

// StepResult records what one step did.
type StepResult struct {
	Seq int64  `json:"seq"`
	Op  string `json:"op"`
	Arg string `json:"arg,omitempty"`

	// Command and capture steps.
	RC       int      `json:"rc"`
	Deferred bool     `json:"deferred,omitempty"`
	Skipped  bool     `json:"skipped,omitempty"`
	Output   []string `json:"output,omitempty"`
	Message  string   `json:"message,omitempty"`

	// Wait steps.
	Status string `json:"status,omitempty"`
	Fired  bool   `json:"fired,omitempty"`
	Count  uint64 `json:"count,omitempty"`
	Need   uint64 `json:"need,omitempty"`

	// Update steps: markers processed. Not part of the snapshot: the
	// number depends on when the worker's last marker is queued.
	Processed int `json:"processed,omitempty"`

	// Destroy steps.
	Outcome string `json:"outcome,omitempty"`

	// Error is the bridge error code of a failed command, lower-cased.
	Error string `json:"error,omitempty"`
}

// FinalState is the instance as seen after the last step.
type FinalState struct {
	State       string
	Generation  uint64
	Counts      map[string]uint64
	Messages    []string
	Vectors     *vector.Table
	InitVectors *vector.InitTable
	Pending     int
	Poisoned    bool
}

// Result is the outcome of running a scenario.
type Result struct {
	Scenario string
	Instance string

	// Archive is the key the run was archived under, when a store was
	// attached. It differs from Instance once the archive already holds a
	// run of the same scenario, and is not part of the snapshot.
	Archive string

	// Pass is true when every step expectation and assertion held.
	Pass bool

	Steps  []StepResult
	Errors []string

	Final FinalState

	// Teardown is the report of the destroy step, or of the destroy the
	// harness ran after the steps.
	Teardown bridge.TeardownReport
}

// NewResult creates a passing result for the named scenario.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Steps:    []StepResult{},
		Errors:   []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Canonical returns the step as a generic map for MarshalCanonical. Timing
// dependent fields are left out.
func (s StepResult) Canonical() map[string]any {
	out := map[string]any{"seq": s.Seq, "op": s.Op}
	if s.Arg != "" {
		out["arg"] = s.Arg
	}
	switch s.Op {
	case "command", "capture":
		if s.Error != "" {
			out["error"] = s.Error
			break
		}
		out["rc"] = s.RC
		out["deferred"] = s.Deferred
		out["skipped"] = s.Skipped
		if s.Output != nil {
			out["output"] = s.Output
		}
		if s.Message != "" {
			out["message"] = s.Message
		}
	case "wait":
		out["status"] = s.Status
		out["fired"] = s.Fired
		out["count"] = s.Count
		out["need"] = s.Need
	case "destroy":
		out["outcome"] = s.Outcome
	}
	return out
}

// Canonical returns the final state as a generic map for MarshalCanonical.
func (f FinalState) Canonical() map[string]any {
	counts := make(map[string]any, len(f.Counts))
	for k, v := range f.Counts {
		counts[k] = v
	}
	out := map[string]any{
		"state":      f.State,
		"generation": f.Generation,
		"counts":     counts,
		"messages":   f.Messages,
		"pending":    f.Pending,
		"poisoned":   f.Poisoned,
	}
	if f.Vectors != nil {
		out["vectors"] = f.Vectors.Canonical()
	}
	if f.InitVectors != nil {
		out["init_vectors"] = f.InitVectors.Canonical()
	}
	return out
}

// Canonical returns the deterministic part of the result: everything but
// pass/fail and error text.
func (r *Result) Canonical() map[string]any {
	steps := make([]any, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = s.Canonical()
	}
	return map[string]any{
		"scenario": r.Scenario,
		"instance": r.Instance,
		"steps":    steps,
		"final":    r.Final.Canonical(),
		"teardown": r.Teardown.Canonical(),
	}
}

// Snapshot renders the result as canonical JSON for golden comparison.
func (r *Result) Snapshot() ([]byte, error) {
	return vector.MarshalCanonical(r.Canonical())
}
