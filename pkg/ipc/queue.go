// Package ipc provides the two shared primitives that connect the control
// loop to the rest of the program: a bounded multi-producer single-consumer
// command queue and a single-producer multi-reader state ring buffer.
//
// These are the only mutable state shared with the control goroutine. Both
// are fixed-capacity and lock-minimal so a slow or busy orchestrator can
// never stall the control tick.
package ipc

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned by Put when the queue is at capacity.
	// Producer backpressure: the caller should retry or drop the command.
	ErrQueueFull = errors.New("ipc: queue full")

	// ErrTimeout is returned by GetLatest when no snapshot is published
	// within the configured time budget. Retryable, not fatal.
	ErrTimeout = errors.New("ipc: no snapshot within time budget")
)

// Queue is a bounded FIFO for handing typed records from any number of
// producer goroutines to a single consumer. Slot handoff uses per-slot
// sequence counters so racing producers never duplicate or drop an entry;
// ordering between racing producers is whoever wins the slot, but a single
// producer's insertion order is always preserved.
type Queue[T any] struct {
	capacity uint64
	slots    []slot[T]
	enqueue  atomic.Uint64
	dequeue  uint64 // owned by the single consumer
}

type slot[T any] struct {
	// sequence == slot index: empty, ready for producer at that position.
	// sequence == position+1: value written, ready for consumer.
	sequence atomic.Uint64
	value    T
}

// NewQueue creates a queue with the given fixed capacity. Capacity must be
// at least 2: with a single slot the sequence values for "written, awaiting
// consumer" and "free for the next lap" coincide, so a second Put would
// overwrite the pending entry instead of reporting ErrQueueFull.
func NewQueue[T any](capacity int) (*Queue[T], error) {
	if capacity < 2 {
		return nil, fmt.Errorf("ipc: queue capacity must be at least 2, got %d", capacity)
	}
	q := &Queue[T]{
		capacity: uint64(capacity),
		slots:    make([]slot[T], capacity),
	}
	for i := range q.slots {
		q.slots[i].sequence.Store(uint64(i))
	}
	return q, nil
}

// Capacity returns the fixed capacity set at creation.
func (q *Queue[T]) Capacity() int { return int(q.capacity) }

// Put appends v without blocking. Returns ErrQueueFull when the consumer has
// fallen a full lap behind. Safe to call from multiple goroutines.
func (q *Queue[T]) Put(v T) error {
	for {
		pos := q.enqueue.Load()
		s := &q.slots[pos%q.capacity]
		seq := s.sequence.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if q.enqueue.CompareAndSwap(pos, pos+1) {
				s.value = v
				s.sequence.Store(pos + 1)
				return nil
			}
			// Lost the slot to another producer; retry.
		case diff < 0:
			return ErrQueueFull
		default:
			// Another producer claimed pos but has not published; retry.
		}
	}
}

// GetAll atomically drains everything enqueued since the last drain, in FIFO
// order. Returns nil when nothing is pending. Must only be called from the
// single consumer goroutine.
func (q *Queue[T]) GetAll() []T {
	var out []T
	for {
		s := &q.slots[q.dequeue%q.capacity]
		if s.sequence.Load() != q.dequeue+1 {
			return out
		}
		out = append(out, s.value)
		var zero T
		s.value = zero
		s.sequence.Store(q.dequeue + q.capacity)
		q.dequeue++
	}
}
