package ipc

import (
	"fmt"
	"sync"
	"time"
)

// StateSnapshot is one immutable, timestamped reading of actuator state:
// a fixed set of named channels mapped to numeric arrays, plus the wall-clock
// time the reading was received. Snapshots are never mutated after publish;
// readers share the underlying arrays.
type StateSnapshot struct {
	Channels         map[string][]float64
	ReceiveTimestamp time.Time
}

// RingBuffer publishes the latest actuator state snapshot plus a bounded
// history. One producer (the control tick) writes; any number of readers copy
// snapshots out. The mutex covers only the index metadata and the slot
// assignment; snapshot contents are immutable so nothing is copied under it.
type RingBuffer struct {
	mu    sync.Mutex
	snaps []StateSnapshot
	next  int // slot the producer writes next
	count int // published snapshots, capped at capacity

	ready     chan struct{} // closed on first publish
	readyOnce sync.Once

	putFrequency float64
}

// NewRingBuffer creates a buffer retaining the last capacity snapshots.
// putFrequency is the producer's configured publish rate in Hz; it is
// recorded for monitoring consumers, not enforced.
func NewRingBuffer(capacity int, putFrequency float64) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ipc: ring buffer capacity must be positive, got %d", capacity)
	}
	return &RingBuffer{
		snaps:        make([]StateSnapshot, capacity),
		ready:        make(chan struct{}),
		putFrequency: putFrequency,
	}, nil
}

// Capacity returns the fixed history length.
func (b *RingBuffer) Capacity() int { return len(b.snaps) }

// PutFrequency returns the producer's configured publish rate in Hz.
func (b *RingBuffer) PutFrequency() float64 { return b.putFrequency }

// Put publishes a snapshot, overwriting the oldest slot when full. Only the
// single producer may call this.
func (b *RingBuffer) Put(s StateSnapshot) {
	b.mu.Lock()
	b.snaps[b.next] = s
	b.next = (b.next + 1) % len(b.snaps)
	if b.count < len(b.snaps) {
		b.count++
	}
	b.mu.Unlock()
	b.readyOnce.Do(func() { close(b.ready) })
}

// GetLatest returns the most recent snapshot, blocking up to budget for the
// first publication. Returns ErrTimeout if nothing is published in time.
func (b *RingBuffer) GetLatest(budget time.Duration) (StateSnapshot, error) {
	select {
	case <-b.ready:
	default:
		t := time.NewTimer(budget)
		defer t.Stop()
		select {
		case <-b.ready:
		case <-t.C:
			return StateSnapshot{}, ErrTimeout
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	last := (b.next - 1 + len(b.snaps)) % len(b.snaps)
	return b.snaps[last], nil
}

// GetLastK returns up to k of the most recent snapshots, oldest first. Fewer
// are returned if the history is shorter.
func (b *RingBuffer) GetLastK(k int) []StateSnapshot {
	if k <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if k > b.count {
		k = b.count
	}
	out := make([]StateSnapshot, 0, k)
	start := (b.next - k + len(b.snaps)) % len(b.snaps)
	for i := 0; i < k; i++ {
		out = append(out, b.snaps[(start+i)%len(b.snaps)])
	}
	return out
}

// GetAll returns every snapshot currently retained, oldest first.
func (b *RingBuffer) GetAll() []StateSnapshot {
	b.mu.Lock()
	count := b.count
	b.mu.Unlock()
	return b.GetLastK(count)
}
