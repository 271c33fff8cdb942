package state

import "sync"

// Fanout delivers values to any number of subscribers without ever blocking
// the publisher. Each subscriber owns a buffered channel; a full buffer drops
// values for that subscriber only.
type Fanout[T any] struct {
	mu      sync.RWMutex
	clients map[chan T]struct{}
	buffer  int
}

// NewFanout creates a fanout whose subscriber channels hold buffer values.
func NewFanout[T any](buffer int) *Fanout[T] {
	return &Fanout[T]{
		clients: make(map[chan T]struct{}),
		buffer:  buffer,
	}
}

// Subscribe returns a channel receiving every published value and a cleanup
// function. The caller must call the cleanup when done; it closes the channel.
func (f *Fanout[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, f.buffer)
	f.mu.Lock()
	f.clients[ch] = struct{}{}
	f.mu.Unlock()

	unsub := func() {
		f.mu.Lock()
		if _, ok := f.clients[ch]; ok {
			delete(f.clients, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, unsub
}

// Publish sends v to every subscriber, skipping full channels.
func (f *Fanout[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.clients {
		select {
		case ch <- v:
		default:
			// channel full, subscriber catches up on the next value
		}
	}
}
