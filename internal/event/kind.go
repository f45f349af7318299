// Package event defines the callback kinds a native engine reports and the
// per-kind counters and wait results built on them.
package event

import (
	"fmt"
	"strings"
)

// Kind identifies one of the six callback kinds delivered by the engine.
type Kind int

const (
	// KindSendChar is a line of engine text output.
	KindSendChar Kind = iota
	// KindSendStat is a status/progress line.
	KindSendStat
	// KindControlledExit reports that the engine has exited (or will).
	KindControlledExit
	// KindSendData carries one batch of data row values.
	KindSendData
	// KindSendInitData carries the vector metadata for a new run.
	KindSendInitData
	// KindBGRunning reports a background worker start or end.
	KindBGRunning

	// NumKinds is the number of defined kinds.
	NumKinds
)

var kindNames = [NumKinds]string{
	KindSendChar:       "send_char",
	KindSendStat:       "send_stat",
	KindControlledExit: "controlled_exit",
	KindSendData:       "send_data",
	KindSendInitData:   "send_init_data",
	KindBGRunning:      "bg_running",
}

// String returns the wire name of the kind (e.g. "send_data").
func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= 0 && k < NumKinds
}

// ParseKind maps a wire name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown event %q: must be one of %s", name, strings.Join(kindNames[:], ", "))
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, NumKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}
