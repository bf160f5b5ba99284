package events

import (
	"sync"

	"github.com/vadiminshakov/copier/internal/domain"
)

// BalanceUpdate is published whenever a follower snapshot is written.
type BalanceUpdate struct {
	AccountID string                 `json:"account_id"`
	Snapshot  domain.BalanceSnapshot `json:"snapshot"`
}

// BalanceBroadcaster fans out updates to all subscribers via buffered channels.
type BalanceBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan BalanceUpdate]struct{}
	buffer int
}

// NewBalanceBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBalanceBroadcaster(buffer int) *BalanceBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &BalanceBroadcaster{
		subs:   make(map[chan BalanceUpdate]struct{}),
		buffer: buffer,
	}
}

// Publish sends the update to all subscribers, dropping if a reader is slow.
func (b *BalanceBroadcaster) Publish(u BalanceUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives updates until Unsubscribe is called.
func (b *BalanceBroadcaster) Subscribe() chan BalanceUpdate {
	ch := make(chan BalanceUpdate, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *BalanceBroadcaster) Unsubscribe(ch chan BalanceUpdate) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *BalanceBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
