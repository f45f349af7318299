package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/simbridge/internal/bridge"
)

func TestParseScenario_Full(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: full
description: "every section set"
engine:
  vectors:
    - name: t
    - name: z
      complex: true
  rows: 4
  row_interval: 5ms
  start_delay: 10ms
  hold_until_halt: true
config:
  poll_slice: 10ms
  halt_timeout: 1s
  fence: data
steps:
  - command: bg_run
    expect:
      rc: 0
  - wait:
      event: send_data
      count: 4
      timeout: 2s
      absolute: true
  - sleep: 20ms
  - abort: true
  - update: true
  - destroy: true
assertions:
  - type: vector_length
    vector: t
    length: 4
  - type: commands
    commands: [bg_run]
`))
	require.NoError(t, err)

	assert.Equal(t, "full", sc.Name)
	assert.Equal(t, 4, sc.Engine.Rows)
	assert.Equal(t, 5*time.Millisecond, sc.Engine.RowInterval)
	require.Len(t, sc.Engine.Vectors, 2)
	assert.True(t, sc.Engine.Vectors[1].Complex)

	require.Len(t, sc.Steps, 6)
	assert.Equal(t, "bg_run", sc.Steps[0].Command)
	require.NotNil(t, sc.Steps[0].Expect)
	require.NotNil(t, sc.Steps[0].Expect.RC)
	assert.Equal(t, 0, *sc.Steps[0].Expect.RC)
	require.NotNil(t, sc.Steps[1].Wait)
	assert.Equal(t, uint64(4), sc.Steps[1].Wait.Count)
	assert.Equal(t, 2*time.Second, sc.Steps[1].Wait.Timeout)
	assert.True(t, sc.Steps[1].Wait.Absolute)
	assert.Equal(t, 20*time.Millisecond, sc.Steps[2].Sleep)
	assert.True(t, sc.Steps[3].Abort)
	assert.True(t, sc.Steps[5].Destroy)

	cfg, err := sc.Config.Apply(bridge.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, bridge.FenceData, cfg.Fence)
	assert.Equal(t, 10*time.Millisecond, cfg.PollSlice)
	assert.Equal(t, time.Second, cfg.HaltTimeout)
	assert.Equal(t, bridge.DefaultStartProbe, cfg.StartProbe)

	script := sc.Engine.Script()
	assert.True(t, script.HoldUntilHalt)
	assert.Equal(t, 10*time.Millisecond, script.StartDelay)
}

func TestParseScenario_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown field",
			yaml: `
name: x
description: "d"
steps:
  - command: echo
    retries: 3
`,
		},
		{
			name: "unknown event",
			yaml: `
name: x
description: "d"
steps:
  - wait: { event: send_everything }
`,
		},
		{
			name: "bad name",
			yaml: `
name: Has Spaces
description: "d"
steps:
  - update: true
`,
		},
		{
			name: "missing description",
			yaml: `
name: x
steps:
  - update: true
`,
		},
		{
			name: "empty steps",
			yaml: `
name: x
description: "d"
steps: []
`,
		},
		{
			name: "unknown assertion",
			yaml: `
name: x
description: "d"
steps:
  - update: true
assertions:
  - type: vibes
`,
		},
		{
			name: "bad fence",
			yaml: `
name: x
description: "d"
config: { fence: some }
steps:
  - update: true
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			var schemaErr *SchemaError
			assert.ErrorAs(t, err, &schemaErr)
		})
	}
}

func TestParseScenario_StepNeedsExactlyOneAction(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: two-actions
description: "d"
steps:
  - command: echo a
    update: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one action is required, got 2")

	_, err = ParseScenario([]byte(`
name: no-action
description: "d"
steps:
  - expect: { rc: 0 }
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 0")
}

func TestParseScenario_BadDuration(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: bad-duration
description: "d"
steps:
  - sleep: 5 parsecs
`))
	require.Error(t, err)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDir_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("b.yaml", "name: second\ndescription: \"d\"\nsteps:\n  - update: true\n")
	write("a.yml", "name: first\ndescription: \"d\"\nsteps:\n  - update: true\n")
	write("notes.txt", "not a scenario")

	scs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scs, 2)
	assert.Equal(t, "first", scs[0].Name)
	assert.Equal(t, "second", scs[1].Name)
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files")
}

func TestValidateSchema_DetailsNameTheField(t *testing.T) {
	err := ValidateSchema([]byte(`
name: x
description: "d"
steps:
  - wait: { event: nope }
`))
	require.Error(t, err)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.NotEmpty(t, schemaErr.Details)
	assert.Contains(t, err.Error(), "event")
}
