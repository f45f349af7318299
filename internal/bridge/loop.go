package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/simbridge/internal/event"
)

// Marker is the notification an engine callback hands to the consumer: the
// instance, the callback kind and the generation current when the payload
// was recorded. Payloads stay in the instance's sinks.
type Marker struct {
	inst       *Instance
	Kind       event.Kind
	Generation uint64
}

// Instance returns the instance the marker refers to.
func (m Marker) Instance() *Instance {
	return m.inst
}

// Loop is the single consumer of markers for any number of instances.
//
// Producers call into it from engine worker goroutines; exactly one
// goroutine at a time drains it, either continuously with Run or in
// bursts with Update. Markers of one instance are delivered FIFO.
//
// The queue is unbounded: a marker is small and every one of them holds a
// lease that must be released, so dropping is not an option.
type Loop struct {
	mu      sync.Mutex
	markers []Marker
	closed  bool
	signal  chan struct{} // buffered, size 1; coalesces wakeups

	owner  atomic.Uint64 // goroutine draining the loop, 0 if none
	logger *slog.Logger
}

// NewLoop creates an empty loop. A nil logger means slog.Default().
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		markers: make([]Marker, 0, 64),
		signal:  make(chan struct{}, 1),
		logger:  logger,
	}
}

// submit appends m. A producer running on the draining goroutine (for
// example output emitted synchronously by a command the consumer issued)
// skips the wakeup: the drain loop re-checks the queue before it sleeps.
// Returns false if the loop is closed.
func (l *Loop) submit(m Marker) bool {
	owner := l.owner.Load()
	sameGoroutine := owner != 0 && owner == goroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.markers = append(l.markers, m)

	// Sent under the lock so Close cannot close the channel in between.
	if !sameGoroutine {
		select {
		case l.signal <- struct{}{}:
		default:
		}
	}
	return true
}

// tryDequeue pops the front marker without blocking.
func (l *Loop) tryDequeue() (Marker, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.markers) == 0 {
		return Marker{}, false
	}
	m := l.markers[0]
	// Drop the instance pointer so the backing array does not pin it.
	l.markers[0] = Marker{}
	if len(l.markers) == 1 {
		l.markers = l.markers[:0]
	} else {
		l.markers = l.markers[1:]
	}
	return m, true
}

// Len returns the number of queued markers.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.markers)
}

// claim marks the calling goroutine as the drainer and returns a function
// restoring the previous owner.
func (l *Loop) claim() func() {
	prev := l.owner.Swap(goroutineID())
	return func() { l.owner.Store(prev) }
}

// Run drains markers until ctx is cancelled or the loop is closed.
// Must be called from exactly one goroutine, and not concurrently with
// Update.
func (l *Loop) Run(ctx context.Context) error {
	defer l.claim()()
	l.logger.Info("consumer loop starting")

	for {
		if m, ok := l.tryDequeue(); ok {
			l.process(m)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Info("consumer loop stopping: context cancelled")
			return ctx.Err()
		case <-l.signal:
			// A closed signal channel fires immediately; stop once the
			// queue is also empty.
			if l.isClosed() && l.Len() == 0 {
				l.logger.Info("consumer loop stopping: closed")
				return nil
			}
		}
	}
}

// Update processes queued markers on the calling goroutine until the queue
// is empty, including markers produced while processing. Returns the number
// processed.
func (l *Loop) Update() int {
	defer l.claim()()
	n := 0
	for {
		m, ok := l.tryDequeue()
		if !ok {
			return n
		}
		l.process(m)
		n++
	}
}

// process applies one marker and releases its lease.
func (l *Loop) process(m Marker) {
	m.inst.consume(m)
	m.inst.release()
}

// Purge removes every queued marker of inst without processing it,
// releasing their leases. Returns the number removed.
func (l *Loop) Purge(inst *Instance) int {
	l.mu.Lock()
	var dropped []Marker
	kept := l.markers[:0]
	for _, m := range l.markers {
		if m.inst == inst {
			dropped = append(dropped, m)
			continue
		}
		kept = append(kept, m)
	}
	clear(l.markers[len(kept):])
	l.markers = kept
	l.mu.Unlock()

	for _, m := range dropped {
		m.inst.retire(m, OutcomePurged, 0)
		m.inst.release()
	}
	return len(dropped)
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close stops accepting markers, releases the leases of any still queued,
// and wakes Run so it returns.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	rest := l.markers
	l.markers = nil
	close(l.signal)
	l.mu.Unlock()

	for _, m := range rest {
		m.inst.retire(m, OutcomePurged, 0)
		m.inst.release()
	}
}
