package api

import (
	"sync"

	"github.com/cbodonnell/civlink/pkg/inference"
)

const subscriberBuffer = 64

// Broadcaster fans tick results out to update stream subscribers. Slow
// subscribers miss results rather than stall the game loop.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan inference.UpdateResult]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan inference.UpdateResult]struct{})}
}

func (b *Broadcaster) Subscribe() (<-chan inference.UpdateResult, func()) {
	ch := make(chan inference.UpdateResult, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Publish forwards results that carry a signal or applied packets.
func (b *Broadcaster) Publish(res inference.UpdateResult) {
	if res.Signal == inference.SignalContinue && res.Packets == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- res:
		default:
		}
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every stream.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
