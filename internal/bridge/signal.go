package bridge

// broadcast is a condition variable built on a channel: waiters grab the
// current channel under the owner's lock, release the lock, and select on
// it. Signal closes the channel, waking everyone, and installs a fresh one.
// Unlike sync.Cond it composes with timers and other channels.
//
// All methods must be called with the owning lock held.
type broadcast struct {
	ch chan struct{}
}

func newBroadcast() broadcast {
	return broadcast{ch: make(chan struct{})}
}

// wait returns the channel closed by the next signal.
func (b *broadcast) wait() <-chan struct{} {
	return b.ch
}

// signal wakes every current waiter.
func (b *broadcast) signal() {
	close(b.ch)
	b.ch = make(chan struct{})
}
