package feed

import (
	"sync"

	"launch-guard/internal/solana"
)

// replayBuffer keeps the most recent notifications received on a handle so a
// consumer attaching after reconnect can inspect what it may have missed.
// Fixed capacity; the oldest entry is overwritten once full.
type replayBuffer struct {
	mu    sync.Mutex
	items []solana.LogNotification
	next  int
	full  bool
}

func newReplayBuffer(capacity int) *replayBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &replayBuffer{items: make([]solana.LogNotification, capacity)}
}

func (b *replayBuffer) Append(n solana.LogNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.next] = n
	b.next++
	if b.next == len(b.items) {
		b.next = 0
		b.full = true
	}
}

// Snapshot returns buffered notifications oldest first.
func (b *replayBuffer) Snapshot() []solana.LogNotification {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]solana.LogNotification, b.next)
		copy(out, b.items[:b.next])
		return out
	}

	out := make([]solana.LogNotification, 0, len(b.items))
	out = append(out, b.items[b.next:]...)
	out = append(out, b.items[:b.next]...)
	return out
}

func (b *replayBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.items)
	}
	return b.next
}
