package bridge

import (
	"sync"
)

// Poison records that an engine died without confirming it stopped touching
// its shared state. Once set it never clears: no instance sharing the
// Poison may call into or unload the native engine again.
//
// One Poison is shared by every instance in a process (see ProcessPoison).
// Tests inject their own through WithPoison.
type Poison struct {
	mu       sync.Mutex
	poisoned bool
	cause    string
}

var (
	processPoison     *Poison
	processPoisonOnce sync.Once
)

// ProcessPoison returns the process-wide Poison.
func ProcessPoison() *Poison {
	processPoisonOnce.Do(func() { processPoison = &Poison{} })
	return processPoison
}

// Set poisons the process. The first cause is kept. Returns true if this
// call flipped the flag.
func (p *Poison) Set(cause string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.poisoned {
		return false
	}
	p.poisoned = true
	p.cause = cause
	return true
}

// Poisoned reports whether the flag is set.
func (p *Poison) Poisoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poisoned
}

// Cause returns the reason given to the first Set.
func (p *Poison) Cause() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}
