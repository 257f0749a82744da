package mount

import "sync"

// Broadcaster distributes snapshots to subscribers. Slow subscribers miss
// snapshots rather than blocking the control loop.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan Snapshot]struct{}
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[chan Snapshot]struct{})}
}

// Subscribe returns a channel of snapshots and a cleanup function. The
// caller must call cleanup when done; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish sends a snapshot to every subscriber without blocking.
func (b *Broadcaster) Publish(s Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- s:
		default:
			// subscriber full, skip
		}
	}
}

// Subscribers returns the number of subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
