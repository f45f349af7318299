// Package bridge connects a native simulation engine's background worker to
// a single consumer goroutine.
//
// ARCHITECTURE:
//
// Producer side. The engine invokes callbacks (text, status, exit, data
// rows, init metadata, worker start/end) from its own worker. Each callback
// records its payload into the Instance's sinks, bumps the matching event
// counter and wakes waiters, then queues a small Marker on the Loop. The
// payload never travels with the marker.
//
// Consumer side. One goroutine drains the Loop (Loop.Run or Loop.Update).
// Markers carry the run generation current when they were recorded; a
// marker from a superseded run is discarded. Data markers detach the row
// buffer and fold it into a copy-on-write vector table; init markers turn
// the one-shot metadata snapshot into a lookup table.
//
// Lifecycle. Commands issued while the worker is starting or stopping are
// deferred and replayed in order once it settles. Destroy runs a
// multi-phase teardown; if the worker vanished without reporting its end the
// shared Poison is set and no instance touches the engine again.
//
// Leases. Every queued marker holds a lease on its Instance. Reclamation
// after teardown waits until the last lease is released.
package bridge
