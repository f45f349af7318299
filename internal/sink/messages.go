// Package sink holds the producer-side buffers that engine callbacks write
// into: text lines (with an optional capture window) and data rows.
//
// None of the types here are synchronised. The bridge guards them with the
// owning instance's main lock.
package sink

const (
	messageFloor = 32
	rowFloor     = 64
)

// grow returns a capacity for n+1 elements using doubling with a floor.
func grow(capacity, floor int) int {
	if capacity < floor {
		return floor
	}
	return capacity * 2
}

// MessageSink is an append-only queue of output lines with a secondary
// capture queue that mirrors pushes while a capture window is open.
type MessageSink struct {
	lines   []string
	capture []string
	open    bool
}

// Push appends line and mirrors it into the capture queue if a window is
// open.
func (s *MessageSink) Push(line string) {
	s.lines = appendLine(s.lines, line)
	if s.open {
		s.capture = appendLine(s.capture, line)
	}
}

// Annotate appends line to the primary queue only. Bridge-generated lines
// (status, background notices) use it so they never land in a capture.
func (s *MessageSink) Annotate(line string) {
	s.lines = appendLine(s.lines, line)
}

func appendLine(q []string, line string) []string {
	if len(q) == cap(q) {
		grown := make([]string, len(q), grow(cap(q), messageFloor))
		copy(grown, q)
		q = grown
	}
	return append(q, line)
}

// Lines returns a copy of the primary queue.
func (s *MessageSink) Lines() []string {
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// Len returns the number of queued lines.
func (s *MessageSink) Len() int {
	return len(s.lines)
}

// Clear drops every queued line but keeps the backing storage.
func (s *MessageSink) Clear() {
	clear(s.lines)
	s.lines = s.lines[:0]
}

// OpenCapture starts a capture window with an empty capture queue.
func (s *MessageSink) OpenCapture() {
	clear(s.capture)
	s.capture = s.capture[:0]
	s.open = true
}

// Capturing reports whether a capture window is open.
func (s *MessageSink) Capturing() bool {
	return s.open
}

// CloseCapture ends the window and returns exactly the lines pushed while
// it was open. The capture queue is left empty.
func (s *MessageSink) CloseCapture() []string {
	out := make([]string, len(s.capture))
	copy(out, s.capture)
	clear(s.capture)
	s.capture = s.capture[:0]
	s.open = false
	return out
}
