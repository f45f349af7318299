package bridge

import "github.com/roach88/simbridge/internal/event"

// Outcome says how a marker was retired.
type Outcome string

const (
	// OutcomeApplied means the marker's effects were applied.
	OutcomeApplied Outcome = "applied"
	// OutcomeStale means the marker belonged to a superseded generation
	// and was discarded.
	OutcomeStale Outcome = "stale"
	// OutcomePurged means teardown or loop shutdown dropped the marker
	// unprocessed.
	OutcomePurged Outcome = "purged"
)

// ProcessedMarker describes one retired marker.
type ProcessedMarker struct {
	Instance   string
	Kind       event.Kind
	Generation uint64
	// Current is the instance's generation when the marker was retired.
	Current uint64
	Outcome Outcome
	// Rows is the number of data rows folded (data markers only).
	Rows int
}

// Observer receives bridge activity. Methods are called from the consumer
// goroutine (markers) and from the goroutine running Destroy (teardowns);
// implementations must be safe for concurrent use and must not call back
// into the instance.
type Observer interface {
	MarkerProcessed(m ProcessedMarker)
	TeardownFinished(r TeardownReport)
}
