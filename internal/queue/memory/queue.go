// Package memory provides the in-process ingestion queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// ErrDrained is returned by Dequeue once the queue is sealed and empty.
var ErrDrained = ingest.ErrDrained

// Queue is an unbounded FIFO shared by one producer and many workers. Enqueue never
// blocks; Dequeue blocks until an item arrives, the queue drains, or the context ends.
type Queue struct {
	mu     sync.Mutex
	items  []ingest.QueueItem
	head   int
	sealed bool
	wake   chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{})}
}

// Enqueue appends item. Requeues after Seal are accepted so workers can hand back
// locations whose outputs were found corrupted.
func (q *Queue) Enqueue(ctx context.Context, item ingest.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.broadcastLocked()
	q.mu.Unlock()
	return nil
}

// Dequeue pops the head item, waiting for one if needed. Once ctx has ended no item
// is handed out, so pending work stays queued.
func (q *Queue) Dequeue(ctx context.Context) (ingest.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ingest.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		q.mu.Lock()
		if item, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return item, nil
		}
		if q.sealed {
			q.mu.Unlock()
			return ingest.QueueItem{}, ErrDrained
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ingest.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wake:
		}
	}
}

// Seal marks discovery as finished and wakes every waiting consumer.
func (q *Queue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return
	}
	q.sealed = true
	q.broadcastLocked()
}

// Sealed reports whether Seal was called.
func (q *Queue) Sealed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sealed
}

// Clear drops every pending item and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items) - q.head
	q.items = nil
	q.head = 0
	return n
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue) popLocked() (ingest.QueueItem, bool) {
	if q.head >= len(q.items) {
		return ingest.QueueItem{}, false
	}
	item := q.items[q.head]
	q.items[q.head] = ingest.QueueItem{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append([]ingest.QueueItem(nil), q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
