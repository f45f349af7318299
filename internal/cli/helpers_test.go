package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const echoScenario = `name: echo
description: "echo once"
steps:
  - command: echo hi
    expect:
      rc: 0
assertions:
  - type: message_contains
    text: "stdout hi"
`

const shortRunScenario = `name: short-run
description: "a two-row run"
engine:
  rows: 2
steps:
  - command: bg_run
  - wait:
      event: bg_running
      count: 2
      absolute: true
      timeout: 2s
  - update: true
assertions:
  - type: vector_length
    vector: time
    length: 2
`

const failingScenario = `name: failing
description: "asserts the wrong state"
steps:
  - command: echo hi
assertions:
  - type: state
    state: dead
`

// writeScenario writes body to dir/name.yaml and returns the path.
func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}
