package exchange

import (
	"sync"
	"sync/atomic"

	"github.com/backkem/keyturner/pkg/message"
)

// Inbound is one received notification: either a decoded frame or the
// reason it could not be decoded.
type Inbound struct {
	Frame *message.Frame
	Err   error
}

// Inbox is a bounded queue of inbound frames. When full, Push discards the
// oldest entry: a stale reply is worth less than the newest one.
type Inbox struct {
	ch      chan Inbound
	mu      sync.Mutex
	dropped atomic.Uint64
}

// NewInbox creates an inbox holding up to size entries.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{ch: make(chan Inbound, size)}
}

// Push enqueues in and reports whether an older entry was discarded.
// It never blocks.
func (b *Inbox) Push(in Inbound) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := false
	for {
		select {
		case b.ch <- in:
			return dropped
		default:
		}
		select {
		case <-b.ch:
			dropped = true
			b.dropped.Add(1)
		default:
		}
	}
}

// C returns the receive side.
func (b *Inbox) C() <-chan Inbound {
	return b.ch
}

// Drain discards all queued entries and returns how many there were.
func (b *Inbox) Drain() int {
	n := 0
	for {
		select {
		case <-b.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued entries.
func (b *Inbox) Len() int {
	return len(b.ch)
}

// Dropped returns how many entries were discarded by overflow.
func (b *Inbox) Dropped() uint64 {
	return b.dropped.Load()
}
