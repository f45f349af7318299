// Package harness runs scripted scenarios against the bridge and the
// simulated engine.
//
// # Scenario Format
//
// Scenarios are YAML files checked against an embedded CUE schema and then
// decoded strictly:
//
//	name: halt-live-worker
//	description: "Destroying a running instance halts the worker"
//	engine:
//	  rows: 3
//	  hold_until_halt: true
//	config:
//	  fence: all
//	steps:
//	  - command: bg_run
//	  - wait: { event: bg_running, count: 1, timeout: 2s }
//	  - update: true
//	  - destroy: true
//	assertions:
//	  - type: state
//	    state: dead
//	  - type: commands
//	    commands: [bg_run, bg_halt, quit]
//
// Each step carries exactly one action: command, capture, wait, update,
// abort, destroy or sleep. A step may add an expect block checked against
// its result.
//
// # Determinism
//
// Instance IDs come from a fixed generator seeded with the scenario name
// and steps are numbered by a deterministic clock, so a scenario whose
// waits fix the interleaving produces the same snapshot on every run.
// Golden files hold that snapshot as canonical JSON.
//
// Every run gets its own Poison, so one scenario's abrupt death does not
// mark the others as poisoned.
package harness
