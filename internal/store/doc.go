// Package store is the SQLite run archive.
//
// It keeps, per bridge instance:
//   - the instance registration (scenario, fence policy)
//   - every retired marker with its generation and outcome
//   - the teardown report, as canonical JSON
//   - data table snapshots with their domain-separated digest
//
// All ordering uses seq, never wall time. The Store hands out seq from
// one sequence that resumes from the archive's highest value on Open, so
// an archive reused across runs stays totally ordered. Instance ids are
// deterministic per scenario; ClaimInstance suffixes "#2", "#3", ... when
// the archive already holds one.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON: markers and reports must name a registered instance
package store
