package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator hands out "<prefix>-1", "<prefix>-2", ... so instance
// IDs in traces and golden files do not change between runs.
//
// Implements bridge.IDGenerator. Safe for concurrent use.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator for prefix. An empty prefix
// means "instance".
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "instance"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// Generate returns the next ID in sequence.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
