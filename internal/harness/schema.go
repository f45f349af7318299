package harness

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed scenario.cue
var scenarioSchema string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

// scenarioDef compiles the schema once. A cue.Context is not safe for
// concurrent use, so callers hold schemaMu while using it.
func scenarioDef() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(scenarioSchema, cue.Filename("scenario.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile scenario schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Scenario"))
		schemaErr = schemaDef.Err()
	})
	return schemaCtx, schemaDef, schemaErr
}

var schemaMu sync.Mutex

// ValidateSchema checks scenario YAML against the #Scenario definition.
// Unknown fields, wrong types and out-of-range values are reported with
// their paths.
func ValidateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("empty scenario")
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, def, err := scenarioDef()
	if err != nil {
		return err
	}
	val := ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Details: formatCUEErrors(err)}
	}
	return nil
}

// SchemaError lists every schema violation of a scenario.
type SchemaError struct {
	Details []string
}

func (e *SchemaError) Error() string {
	return "scenario does not match schema:\n  " + strings.Join(e.Details, "\n  ")
}

func formatCUEErrors(err error) []string {
	var out []string
	for _, e := range errors.Errors(err) {
		msg := errors.Details(e, nil)
		out = append(out, strings.TrimSpace(msg))
	}
	if len(out) == 0 {
		out = []string{err.Error()}
	}
	return out
}
