package bridge

// State is the lifecycle state of an instance's background worker.
//
//	Idle --bg_run--> StartingBackground --started--> BackgroundActive
//	BackgroundActive --bg_halt--> StoppingBackground --ended--> Idle
//	BackgroundActive --ended--> Idle
//	any --teardown--> Dead
type State int

const (
	Idle State = iota
	StartingBackground
	BackgroundActive
	StoppingBackground
	Dead
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case StartingBackground:
		return "starting_background"
	case BackgroundActive:
		return "background_active"
	case StoppingBackground:
		return "stopping_background"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// ParseState maps a State's String form back to the State.
func ParseState(s string) (State, bool) {
	for st := Idle; st <= Dead; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Transitional reports whether commands issued now must be deferred.
func (s State) Transitional() bool {
	return s == StartingBackground || s == StoppingBackground
}

// State returns the current lifecycle state.
func (in *Instance) State() State {
	in.bgMu.Lock()
	defer in.bgMu.Unlock()
	return in.state
}
