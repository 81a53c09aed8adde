package bridge

import (
	"context"
	"sync"
)

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Notifier is a monotonically versioned broadcast wakeup.
//
// Every Notify increments the version and closes the current broadcast
// channel, replacing it with a fresh one. A waiter records a baseline with
// Version and later calls Subscribe(baseline): if the version has already
// moved past the baseline the returned channel is closed, otherwise it is
// closed by the next Notify.
type Notifier struct {
	mu      sync.Mutex
	version uint64
	ch      chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

// Version returns the current version.
func (n *Notifier) Version() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version
}

// Notify advances the version by one and wakes every current subscriber.
func (n *Notifier) Notify() uint64 {
	n.mu.Lock()
	n.version++
	v := n.version
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
	return v
}

// Subscribe returns a channel that is closed once the version exceeds since.
// Take it immediately before blocking; a handle kept across iterations
// reports a change that has already been consumed.
func (n *Notifier) Subscribe(since uint64) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.version > since {
		return closedCh
	}
	return n.ch
}

// Wait blocks until the version exceeds since or ctx is done.
func (n *Notifier) Wait(ctx context.Context, since uint64) error {
	select {
	case <-n.Subscribe(since):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
