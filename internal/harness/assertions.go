package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/simbridge/internal/bridge"
	"github.com/roach88/simbridge/internal/simulator"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string
	Actual   string
	// Messages is the message log at the time of the check, for context.
	Messages []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Messages) > 0 {
		fmt.Fprintf(&buf, "\nMessages:\n")
		for i, m := range e.Messages {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, m)
		}
	}
	return buf.String()
}

// AssertionContext is what assertions are evaluated against.
type AssertionContext struct {
	Instance  *bridge.Instance
	Simulator *simulator.Simulator
	Poison    *bridge.Poison
	Final     *FinalState
}

func (c *AssertionContext) fail(typ, expected, actual string) error {
	return &AssertionError{
		Type:     typ,
		Expected: expected,
		Actual:   actual,
		Messages: c.Final.Messages,
	}
}

func assertState(c *AssertionContext, a Assertion) error {
	if c.Final.State == a.State {
		return nil
	}
	return c.fail(a.Type, a.State, c.Final.State)
}

func assertVectorLength(c *AssertionContext, a Assertion) error {
	got := 0
	if c.Final.Vectors != nil {
		got = c.Final.Vectors.Count(a.Vector)
	}
	if got == a.Length {
		return nil
	}
	return c.fail(a.Type,
		fmt.Sprintf("vector %s with %d values", a.Vector, a.Length),
		fmt.Sprintf("%d values", got))
}

func assertMessageContains(c *AssertionContext, a Assertion) error {
	for _, m := range c.Final.Messages {
		if strings.Contains(m, a.Text) {
			return nil
		}
	}
	return c.fail(a.Type, fmt.Sprintf("a message containing %q", a.Text), "not found")
}

func assertCount(c *AssertionContext, a Assertion) error {
	got := c.Final.Counts[a.Event]
	if got == uint64(a.Count) {
		return nil
	}
	return c.fail(a.Type,
		fmt.Sprintf("%s counted %d times", a.Event, a.Count),
		fmt.Sprintf("%d", got))
}

func assertPoisoned(c *AssertionContext, a Assertion) error {
	if c.Poison.Poisoned() == a.Value {
		return nil
	}
	actual := "not poisoned"
	if c.Poison.Poisoned() {
		actual = "poisoned: " + c.Poison.Cause()
	}
	return c.fail(a.Type, fmt.Sprintf("poisoned=%t", a.Value), actual)
}

func assertCommands(c *AssertionContext, a Assertion) error {
	got := c.Simulator.Commands()
	if slices.Equal(got, a.Commands) {
		return nil
	}
	return c.fail(a.Type, fmt.Sprintf("%q", a.Commands), fmt.Sprintf("%q", got))
}

func assertPending(c *AssertionContext, a Assertion) error {
	if c.Final.Pending == a.Count {
		return nil
	}
	return c.fail(a.Type,
		fmt.Sprintf("%d pending commands", a.Count),
		fmt.Sprintf("%d", c.Final.Pending))
}

func assertClosed(c *AssertionContext, a Assertion) error {
	if c.Simulator.Closed() == a.Value {
		return nil
	}
	return c.fail(a.Type, fmt.Sprintf("closed=%t", a.Value), fmt.Sprintf("closed=%t", !a.Value))
}

// EvaluateAssertions runs all assertions and returns the failures.
func EvaluateAssertions(actx *AssertionContext, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertState:
			err = assertState(actx, assertion)
		case AssertVectorLength:
			err = assertVectorLength(actx, assertion)
		case AssertMessageContains:
			err = assertMessageContains(actx, assertion)
		case AssertCount:
			err = assertCount(actx, assertion)
		case AssertPoisoned:
			err = assertPoisoned(actx, assertion)
		case AssertCommands:
			err = assertCommands(actx, assertion)
		case AssertPending:
			err = assertPending(actx, assertion)
		case AssertClosed:
			err = assertClosed(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
