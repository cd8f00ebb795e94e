package events

import (
	"context"
	"sync"
)

// Broadcaster fans out records to all subscribers via buffered channels.
// It keeps the API intentionally small so call sites can stay straightforward.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan Record]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan Record]struct{}),
		buffer: buffer,
	}
}

// Report publishes the record, making the broadcaster a Sink.
func (b *Broadcaster) Report(_ context.Context, r Record) {
	b.Publish(r)
}

// Publish sends the record to all subscribers, dropping if a reader is slow.
func (b *Broadcaster) Publish(r Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- r:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives records until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan Record {
	ch := make(chan Record, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Record) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
