package vector

import "sync/atomic"

// Table maps vector names to their accumulated samples, in first-seen
// order.
//
// A Table returned by Share may be read concurrently by any number of
// goroutines. Append on a shared table panics: call Clone and append to
// the copy.
type Table struct {
	names  []string
	cols   map[string][]Value
	shared atomic.Bool
}

// NewTable returns an empty, unshared table.
func NewTable() *Table {
	return &Table{cols: make(map[string][]Value)}
}

// Append adds v to the named vector, creating the vector on first use.
func (t *Table) Append(name string, v Value) {
	if t.shared.Load() {
		panic("vector: append to shared table " + name)
	}
	col, ok := t.cols[name]
	if !ok {
		t.names = append(t.names, name)
	}
	t.cols[name] = append(col, v)
}

// Share marks the table as shared and returns it.
func (t *Table) Share() *Table {
	t.shared.Store(true)
	return t
}

// Shared reports whether the table has been handed to a reader.
func (t *Table) Shared() bool {
	return t.shared.Load()
}

// Clone returns an unshared copy. Column storage is not copied: each
// column's capacity is clamped so the next Append on the clone reallocates
// instead of writing into memory a reader still sees.
func (t *Table) Clone() *Table {
	c := &Table{
		names: append([]string(nil), t.names...),
		cols:  make(map[string][]Value, len(t.cols)),
	}
	for name, col := range t.cols {
		c.cols[name] = col[:len(col):len(col)]
	}
	return c
}

// Names returns vector names in first-seen order.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Len returns the number of vectors.
func (t *Table) Len() int {
	return len(t.names)
}

// Values returns a copy of the samples of the named vector.
func (t *Table) Values(name string) []Value {
	return append([]Value(nil), t.cols[name]...)
}

// Count returns the number of samples in the named vector.
func (t *Table) Count(name string) int {
	return len(t.cols[name])
}

// Canonical returns the table as a float-free generic map suitable for
// MarshalCanonical.
func (t *Table) Canonical() map[string]any {
	out := make(map[string]any, len(t.names))
	for _, name := range t.names {
		col := t.cols[name]
		vals := make([]any, len(col))
		for i, v := range col {
			vals[i] = v.canonical()
		}
		out[name] = vals
	}
	return out
}

// InitEntry is one vector's metadata.
type InitEntry struct {
	Name  string
	Index int
	Real  bool
}

// InitTable is the metadata table for a run. It is immutable once built.
type InitTable struct {
	entries []InitEntry
	byName  map[string]int
}

// NewInitTable builds a table from entries. A later duplicate name replaces
// the earlier entry in place.
func NewInitTable(entries []InitEntry) *InitTable {
	it := &InitTable{byName: make(map[string]int, len(entries))}
	for _, e := range entries {
		if i, ok := it.byName[e.Name]; ok {
			it.entries[i] = e
			continue
		}
		it.byName[e.Name] = len(it.entries)
		it.entries = append(it.entries, e)
	}
	return it
}

// Get looks up the entry for name.
func (it *InitTable) Get(name string) (InitEntry, bool) {
	i, ok := it.byName[name]
	if !ok {
		return InitEntry{}, false
	}
	return it.entries[i], true
}

// Entries returns all entries in snapshot order.
func (it *InitTable) Entries() []InitEntry {
	return append([]InitEntry(nil), it.entries...)
}

// Len returns the number of entries.
func (it *InitTable) Len() int {
	return len(it.entries)
}

// Canonical returns name -> {"number": n, "real": bool}.
func (it *InitTable) Canonical() map[string]any {
	out := make(map[string]any, len(it.entries))
	for _, e := range it.entries {
		out[e.Name] = map[string]any{"number": e.Index, "real": e.Real}
	}
	return out
}
