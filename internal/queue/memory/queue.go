// Package memory provides the in-process recipient dispatch queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

type entry struct {
	item feed.Delivery
	key  string
}

// Queue is a FIFO-biased multi-consumer queue with per-key mutual exclusion:
// a key stays locked from the Get that returned it until Release, and no other
// item with that key is handed out meanwhile.
type Queue struct {
	mu       sync.Mutex
	items    []entry
	held     map[string]string
	notify   chan struct{}
	capacity int
	closed   bool
}

// NewQueue constructs a queue. A positive capacity makes Put block while the
// queue is full; zero means unbounded.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		held:     make(map[string]string),
		notify:   make(chan struct{}),
		capacity: capacity,
	}
}

// Put appends item to the tail under key.
func (q *Queue) Put(ctx context.Context, item feed.Delivery, key string) error {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return feed.ErrQueueClosed
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			break
		}
		if err := q.waitLocked(ctx); err != nil {
			return fmt.Errorf("enqueue canceled: %w", err)
		}
	}
	q.items = append(q.items, entry{item: item, key: key})
	if _, locked := q.held[key]; !locked {
		q.broadcastLocked()
	}
	q.mu.Unlock()
	return nil
}

// Get blocks until an item whose key is unlocked is queued, removes the first
// such item from the head side and locks its key before returning.
func (q *Queue) Get(ctx context.Context, workerID string) (feed.Delivery, string, error) {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return feed.Delivery{}, "", feed.ErrQueueClosed
		}
		if idx := q.firstAvailableLocked(); idx >= 0 {
			e := q.items[idx]
			last := len(q.items) - 1
			copy(q.items[idx:], q.items[idx+1:])
			q.items[last] = entry{} // drop the page list held by the vacated tail slot
			q.items = q.items[:last]
			q.held[e.key] = workerID
			if q.capacity > 0 {
				q.broadcastLocked()
			}
			q.mu.Unlock()
			return e.item, e.key, nil
		}
		if err := q.waitLocked(ctx); err != nil {
			return feed.Delivery{}, "", fmt.Errorf("dequeue canceled: %w", err)
		}
	}
}

// Release unlocks key. Releasing a key that is not held is a programming
// error and panics.
func (q *Queue) Release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.held[key]; !ok {
		panic(fmt.Sprintf("memory queue: release of key %q that is not held", key))
	}
	delete(q.held, key)
	for _, e := range q.items {
		if e.key == key {
			q.broadcastLocked()
			return
		}
	}
}

// Len returns the number of pending items. Diagnostic only.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of currently locked keys.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.held)
}

// Close wakes every waiter; subsequent Put and Get return feed.ErrQueueClosed.
// Held keys may still be released.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) firstAvailableLocked() int {
	for i, e := range q.items {
		if _, locked := q.held[e.key]; !locked {
			return i
		}
	}
	return -1
}

// waitLocked releases the mutex until the next broadcast or ctx end. On nil
// return the mutex is held again; on error it is not.
func (q *Queue) waitLocked(ctx context.Context) error {
	ch := q.notify
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	}
	q.mu.Lock()
	return nil
}

func (q *Queue) broadcastLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}
