package event

// Counts holds one monotone counter per Kind.
//
// Counts is a plain value: the owner guards it with its own lock. Copying a
// Counts yields an independent snapshot.
type Counts [NumKinds]uint64

// Get returns the counter for k.
func (c Counts) Get(k Kind) uint64 {
	return c[k]
}

// Inc bumps the counter for k and returns the new value.
func (c *Counts) Inc(k Kind) uint64 {
	c[k]++
	return c[k]
}

// Reset zeroes every counter.
func (c *Counts) Reset() {
	*c = Counts{}
}

// Map returns the counters keyed by wire name.
func (c Counts) Map() map[string]uint64 {
	m := make(map[string]uint64, NumKinds)
	for k, n := range c {
		m[Kind(k).String()] = n
	}
	return m
}

// WaitStatus is the outcome of a blocking wait.
type WaitStatus int

const (
	// StatusOK means the target count was reached.
	StatusOK WaitStatus = iota
	// StatusTimeout means the deadline passed first.
	StatusTimeout
	// StatusAborted means an abort or teardown interrupted the wait.
	StatusAborted
)

func (s WaitStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ParseWaitStatus maps "ok", "timeout" or "aborted" to a WaitStatus.
func ParseWaitStatus(s string) (WaitStatus, bool) {
	switch s {
	case "ok":
		return StatusOK, true
	case "timeout":
		return StatusTimeout, true
	case "aborted":
		return StatusAborted, true
	}
	return 0, false
}

// WaitResult reports how a wait ended.
//
// Timeouts and aborts are results, not errors.
type WaitResult struct {
	Status WaitStatus
	// Fired is true when the counter reached its target.
	Fired bool
	// Count is the absolute counter value observed last.
	Count uint64
	// Need is the normalised number of bumps waited for.
	Need uint64
}
