package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/simbridge/internal/bridge"
	"github.com/roach88/simbridge/internal/event"
	"github.com/roach88/simbridge/internal/simulator"
)

// Scenario drives one bridge instance over a simulated engine and checks
// the outcome.
type Scenario struct {
	// Name uniquely identifies the scenario; it also prefixes the instance
	// ID and names the golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Engine scripts the simulated engine.
	Engine EngineSpec `yaml:"engine,omitempty"`

	// Config overrides bridge timings for this scenario.
	Config ConfigOverrides `yaml:"config,omitempty"`

	// Steps run in order on a single goroutine, which is also the
	// consumer: markers are only processed by update steps and at the end.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// EngineSpec is the YAML form of simulator.Script.
type EngineSpec struct {
	Vectors       []simulator.Vector `yaml:"vectors,omitempty"`
	Rows          int                `yaml:"rows,omitempty"`
	RowInterval   time.Duration      `yaml:"row_interval,omitempty"`
	StartDelay    time.Duration      `yaml:"start_delay,omitempty"`
	DieAfterRows  int                `yaml:"die_after_rows,omitempty"`
	HoldUntilHalt bool               `yaml:"hold_until_halt,omitempty"`
	IgnoreQuit    bool               `yaml:"ignore_quit,omitempty"`
}

// Script converts the engine section for the simulator.
func (e EngineSpec) Script() simulator.Script {
	return simulator.Script{
		Vectors:       e.Vectors,
		Rows:          e.Rows,
		RowInterval:   e.RowInterval,
		StartDelay:    e.StartDelay,
		DieAfterRows:  e.DieAfterRows,
		HoldUntilHalt: e.HoldUntilHalt,
		IgnoreQuit:    e.IgnoreQuit,
	}
}

// ConfigOverrides replace individual bridge settings. Zero values keep the
// base configuration.
type ConfigOverrides struct {
	PollSlice   time.Duration `yaml:"poll_slice,omitempty"`
	StartProbe  time.Duration `yaml:"start_probe,omitempty"`
	HaltTimeout time.Duration `yaml:"halt_timeout,omitempty"`
	HaltReissue time.Duration `yaml:"halt_reissue,omitempty"`
	ExitTimeout time.Duration `yaml:"exit_timeout,omitempty"`
	Fence       string        `yaml:"fence,omitempty"`
}

// Apply returns base with the overrides applied.
func (o ConfigOverrides) Apply(base bridge.Config) (bridge.Config, error) {
	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&base.PollSlice, o.PollSlice)
	set(&base.StartProbe, o.StartProbe)
	set(&base.HaltTimeout, o.HaltTimeout)
	set(&base.HaltReissue, o.HaltReissue)
	set(&base.ExitTimeout, o.ExitTimeout)
	if o.Fence != "" {
		f, err := bridge.ParseFencePolicy(o.Fence)
		if err != nil {
			return bridge.Config{}, err
		}
		base.Fence = f
	}
	return base, nil
}

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	Command string        `yaml:"command,omitempty"`
	Capture string        `yaml:"capture,omitempty"`
	Wait    *WaitStep     `yaml:"wait,omitempty"`
	Update  bool          `yaml:"update,omitempty"`
	Abort   bool          `yaml:"abort,omitempty"`
	Destroy bool          `yaml:"destroy,omitempty"`
	Sleep   time.Duration `yaml:"sleep,omitempty"`

	// Expect checks the step's outcome. Nil checks nothing.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// WaitStep waits for an event counter.
type WaitStep struct {
	Event string `yaml:"event"`
	// Count is the number of new events awaited (0 means 1).
	Count uint64 `yaml:"count,omitempty"`
	// Timeout <= 0 waits until the event or an abort.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Absolute anchors the target at zero instead of the current count, so
	// events that fired before the step still count.
	Absolute bool `yaml:"absolute,omitempty"`
	// AbortAfter aborts the wait from another goroutine after the delay.
	AbortAfter time.Duration `yaml:"abort_after,omitempty"`
}

// StepExpect lists the fields a step result must have.
type StepExpect struct {
	RC       *int     `yaml:"rc,omitempty"`
	Deferred *bool    `yaml:"deferred,omitempty"`
	Skipped  *bool    `yaml:"skipped,omitempty"`
	Output   []string `yaml:"output,omitempty"`
	Status   string   `yaml:"status,omitempty"`
	Error    string   `yaml:"error,omitempty"`
}

// Assertion checks the final state of the run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// State is the expected lifecycle state (state).
	State string `yaml:"state,omitempty"`

	// Vector and Length: the named vector holds Length samples
	// (vector_length).
	Vector string `yaml:"vector,omitempty"`
	Length int    `yaml:"length,omitempty"`

	// Text must appear in some message line (message_contains).
	Text string `yaml:"text,omitempty"`

	// Event and Count: the counter equals Count (count). Count alone is
	// the number of deferred commands (pending).
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Value is the expected flag (poisoned, closed).
	Value bool `yaml:"value,omitempty"`

	// Commands is the exact command sequence the engine received
	// (commands).
	Commands []string `yaml:"commands,omitempty"`
}

// Assertion type constants.
const (
	AssertState           = "state"
	AssertVectorLength    = "vector_length"
	AssertMessageContains = "message_contains"
	AssertCount           = "count"
	AssertPoisoned        = "poisoned"
	AssertCommands        = "commands"
	AssertPending         = "pending"
	AssertClosed          = "closed"
)

// LoadScenario reads a scenario file, checks it against the CUE schema,
// decodes it strictly (unknown fields are errors) and validates it.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario is LoadScenario for in-memory YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := CheckUniqueNames(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrDuplicateName is returned when two scenarios of one batch share a
// name, and so would share instance ids and golden files.
var ErrDuplicateName = errors.New("duplicate scenario name")

// CheckUniqueNames rejects a batch in which a name repeats.
func CheckUniqueNames(scenarios []*Scenario) error {
	seen := make(map[string]bool, len(scenarios))
	for _, sc := range scenarios {
		if seen[sc.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, sc.Name)
		}
		seen[sc.Name] = true
	}
	return nil
}

// validateScenario checks what the schema cannot: one action per step and
// names that must resolve.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if _, err := s.Config.Apply(bridge.DefaultConfig()); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
		}
		if step.Wait != nil {
			if _, err := event.ParseKind(step.Wait.Event); err != nil {
				return fmt.Errorf("steps[%d].wait: %w", i, err)
			}
		}
		if e := step.Expect; e != nil && e.Status != "" {
			if _, ok := event.ParseWaitStatus(e.Status); !ok {
				return fmt.Errorf("steps[%d].expect: unknown status %q", i, e.Status)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Command != "",
		s.Capture != "",
		s.Wait != nil,
		s.Update,
		s.Abort,
		s.Destroy,
		s.Sleep > 0,
	} {
		if set {
			n++
		}
	}
	return n
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertState:
		if _, ok := bridge.ParseState(a.State); !ok {
			return fmt.Errorf("assertions[%d]: unknown state %q", index, a.State)
		}
	case AssertVectorLength:
		if a.Vector == "" {
			return fmt.Errorf("assertions[%d]: vector is required for vector_length", index)
		}
	case AssertMessageContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for message_contains", index)
		}
	case AssertCount:
		if _, err := event.ParseKind(a.Event); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertPoisoned, AssertCommands, AssertPending, AssertClosed:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
