package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

func delivery(chapterURL, recipient string) feed.Delivery {
	return feed.Delivery{Chapter: feed.Chapter{URL: chapterURL}, RecipientID: recipient}
}

func TestQueuePutGet(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	result := make(chan feed.Delivery, 1)
	errCh := make(chan error, 1)

	go func() {
		item, key, err := q.Get(context.Background(), "w1")
		if err != nil {
			errCh <- err
			return
		}
		if key != "chat-1" {
			errCh <- fmt.Errorf("unexpected key %q", key)
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to block
	if err := q.Put(context.Background(), delivery("c1", "chat-1"), "chat-1"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Get() error = %v", err)
	case got := <-result:
		if got.Chapter.URL != "c1" {
			t.Fatalf("expected c1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("get did not return item")
	}
}

// TestQueueGetClearsVacatedSlot keeps taken deliveries from lingering in the
// backing array.
func TestQueueGetClearsVacatedSlot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(0)
	first := delivery("c1", "chat-1")
	first.Chapter.Pictures = []string{"p1", "p2"}
	require.NoError(t, q.Put(ctx, first, "chat-1"))
	require.NoError(t, q.Put(ctx, first, "chat-1"))
	require.NoError(t, q.Put(ctx, delivery("c2", "chat-2"), "chat-2"))

	// chat-1 is held after the first Get, so the second Get removes c2 from
	// the middle of the queue.
	_, _, err := q.Get(ctx, "w1")
	require.NoError(t, err)
	item, key, err := q.Get(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, "chat-2", key)
	require.Equal(t, "c2", item.Chapter.URL)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.items, 1)
	require.Equal(t, "chat-1", q.items[0].key)
	for _, e := range q.items[len(q.items):cap(q.items)] {
		require.Equal(t, entry{}, e)
	}
}

// TestQueueSkipsLockedKeys ensures Get passes over items whose key is checked out.
func TestQueueSkipsLockedKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(0)
	require.NoError(t, q.Put(ctx, delivery("a1", "a"), "a"))
	require.NoError(t, q.Put(ctx, delivery("a2", "a"), "a"))
	require.NoError(t, q.Put(ctx, delivery("b1", "b"), "b"))

	first, key, err := q.Get(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, "a", key)
	require.Equal(t, "a1", first.Chapter.URL)

	second, key, err := q.Get(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, "b", key)
	require.Equal(t, "b1", second.Chapter.URL)
	require.Equal(t, 1, q.Len())
	require.Equal(t, 2, q.InFlight())

	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, _, err = q.Get(blocked, "w3")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	q.Release("a")
	third, key, err := q.Get(ctx, "w3")
	require.NoError(t, err)
	require.Equal(t, "a", key)
	require.Equal(t, "a2", third.Chapter.URL)
}

// TestQueueReleaseWakesWaiter ensures a blocked Get resumes after Release.
func TestQueueReleaseWakesWaiter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(0)
	require.NoError(t, q.Put(ctx, delivery("a1", "a"), "a"))
	require.NoError(t, q.Put(ctx, delivery("a2", "a"), "a"))
	_, _, err := q.Get(ctx, "w1")
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		item, _, err := q.Get(ctx, "w2")
		if err == nil {
			got <- item.Chapter.URL
		}
	}()

	select {
	case <-got:
		t.Fatal("Get returned while key was held")
	case <-time.After(30 * time.Millisecond):
	}
	q.Release("a")
	select {
	case url := <-got:
		require.Equal(t, "a2", url)
	case <-time.After(time.Second):
		t.Fatal("Release did not wake waiter")
	}
}

// TestQueueSingleKeyFIFO ensures items sharing one key come out in Put order.
func TestQueueSingleKeyFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(0)
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, q.Put(ctx, delivery(fmt.Sprintf("c%02d", i), "solo"), "solo"))
	}

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				item, key, err := q.Get(ctx, fmt.Sprintf("w%d", id))
				if err != nil {
					return
				}
				mu.Lock()
				order = append(order, item.Chapter.URL)
				done := len(order) == n
				mu.Unlock()
				q.Release(key)
				if done {
					q.Close()
				}
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, order, n)
	for i, url := range order {
		require.Equal(t, fmt.Sprintf("c%02d", i), url)
	}
}

// TestQueueAtMostOnePerKey hammers the queue and checks no key is ever held twice.
func TestQueueAtMostOnePerKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(0)
	const (
		keys    = 5
		perKey  = 40
		workers = 8
	)
	var (
		active    sync.Map
		violation atomic.Bool
		processed atomic.Int64
		wg        sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				_, key, err := q.Get(ctx, fmt.Sprintf("w%d", id))
				if err != nil {
					return
				}
				if _, loaded := active.LoadOrStore(key, id); loaded {
					violation.Store(true)
				}
				time.Sleep(time.Microsecond * 50)
				active.Delete(key)
				q.Release(key)
				processed.Add(1)
			}
		}(w)
	}
	for i := 0; i < perKey; i++ {
		for k := 0; k < keys; k++ {
			key := fmt.Sprintf("k%d", k)
			require.NoError(t, q.Put(ctx, delivery(fmt.Sprintf("%s-%d", key, i), key), key))
		}
	}

	require.Eventually(t, func() bool {
		return processed.Load() == keys*perKey
	}, 5*time.Second, 5*time.Millisecond)
	q.Close()
	wg.Wait()
	require.False(t, violation.Load(), "two workers held the same key")
}

// TestQueueLivenessDistinctKeys ensures N distinct keys drain with N concurrent holders.
func TestQueueLivenessDistinctKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(0)
	const n = 6
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("r%d", i)
		require.NoError(t, q.Put(ctx, delivery("c", key), key))
	}
	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		_, key, err := q.Get(ctx, "w")
		require.NoError(t, err)
		seen[key] = true
	}
	require.Len(t, seen, n)
	require.Equal(t, n, q.InFlight())
}

// TestQueueReleaseUnheldPanics ensures the invariant violation is fatal.
func TestQueueReleaseUnheldPanics(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	require.Panics(t, func() { q.Release("nobody") })
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := q.Get(ctx, "w"); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	if err := q.Put(context.Background(), delivery("primed", "k"), "k"); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	if err := q.Put(ctx, delivery("overflow", "k"), "k"); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

// TestQueueCapacityBlocksUntilGet ensures a full bounded queue applies backpressure.
func TestQueueCapacityBlocksUntilGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueue(1)
	require.NoError(t, q.Put(ctx, delivery("c1", "a"), "a"))

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, delivery("c2", "b"), "b") }()

	select {
	case <-done:
		t.Fatal("Put did not block on a full queue")
	case <-time.After(30 * time.Millisecond):
	}
	_, _, err := q.Get(ctx, "w")
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Put did not resume after Get")
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	errCh := make(chan error, 1)
	go func() {
		_, _, err := q.Get(context.Background(), "w")
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, feed.ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake Get")
	}
	require.ErrorIs(t, q.Put(context.Background(), delivery("c", "k"), "k"), feed.ErrQueueClosed)
}
