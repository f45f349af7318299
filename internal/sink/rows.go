package sink

// Cell is one named value inside a data row.
type Cell struct {
	Name    string
	Real    float64
	Imag    float64
	Complex bool
}

// Row is one batch of cell values reported by a single data callback.
type Row []Cell

// DataBuffer accumulates rows from the producer until the consumer detaches
// them.
type DataBuffer struct {
	rows  []Row
	spare []Row
}

// Append adds row to the end of the buffer.
func (b *DataBuffer) Append(row Row) {
	if len(b.rows) == cap(b.rows) {
		grown := make([]Row, len(b.rows), grow(cap(b.rows), rowFloor))
		copy(grown, b.rows)
		b.rows = grown
	}
	b.rows = append(b.rows, row)
}

// Len returns the number of buffered rows.
func (b *DataBuffer) Len() int {
	return len(b.rows)
}

// Detach hands every buffered row to the caller and leaves the buffer
// empty. The caller owns the returned slice exclusively. If the caller
// hands a drained slice back through Recycle, the producer reuses its
// storage and appends without allocating.
func (b *DataBuffer) Detach() []Row {
	out := b.rows
	b.rows = b.spare
	b.spare = nil
	return out
}

// Recycle returns a slice previously obtained from Detach once the caller
// is done with it. The slice is zeroed before reuse.
func (b *DataBuffer) Recycle(rows []Row) {
	if cap(rows) == 0 {
		return
	}
	clear(rows[:cap(rows)])
	switch {
	case len(b.rows) == 0 && cap(b.rows) == 0:
		b.rows = rows[:0]
	case b.spare == nil:
		b.spare = rows[:0]
	}
}

// Reset drops all buffered rows.
func (b *DataBuffer) Reset() {
	clear(b.rows)
	b.rows = b.rows[:0]
}

// VecInfo describes one vector in an init snapshot.
type VecInfo struct {
	Name   string
	Number int
	Real   bool
}

// InitSnapshot is the one-shot vector metadata list for a run.
type InitSnapshot struct {
	Vectors []VecInfo
}
