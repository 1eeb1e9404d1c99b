package coordinate

import (
	"log/slog"
	"sync"

	"github.com/openledge/calstore/calendar"
)

// Invalidation tells other nodes that a calendar changed. Origin
// carries the writing node's id so a node can ignore its own
// broadcasts.
type Invalidation struct {
	Key    calendar.Key
	Origin string
}

// Bus fans invalidations out to subscribers over buffered channels.
// Publish never blocks: a subscriber whose buffer is full misses the
// message and is expected to re-sync through the read path on its
// next cache miss.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Invalidation
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBus creates a bus whose subscriber channels hold up to buffer
// undelivered invalidations each.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{buffer: buffer, logger: logger}
}

// Subscribe registers a new consumer. The channel is closed when the
// bus closes.
func (b *Bus) Subscribe() <-chan Invalidation {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Invalidation, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers inv to every subscriber that has buffer room and
// reports whether all of them got it.
func (b *Bus) Publish(inv Invalidation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	all := true
	for _, ch := range b.subs {
		select {
		case ch <- inv:
		default:
			all = false
			b.logger.Warn("dropping invalidation for slow subscriber",
				"calendar", inv.Key, "origin", inv.Origin)
		}
	}
	return all
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
