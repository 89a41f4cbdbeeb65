package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

var _ ingest.Queue = (*Queue)(nil)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	result := make(chan ingest.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{Location: "ftp://h/a.nc"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, ingest.Location("ftp://h/a.nc"), got.Location)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueIsFIFOAndUnbounded(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	const n = 5000
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{Location: ingest.Location(fmt.Sprint(i))}))
	}
	require.Equal(t, n, q.Len())
	q.Seal()
	for i := 0; i < n; i++ {
		item, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, ingest.Location(fmt.Sprint(i)), item.Location)
	}
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrDrained)
	require.Zero(t, q.Len())
}

func TestQueueDrainsAfterSeal(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{Location: "a"}))
	q.Seal()
	q.Seal()

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, ingest.Location("a"), item.Location)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrDrained)

	require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{Location: "a", Requeued: true}))
	item, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, item.Requeued)
}

func TestQueueSealWakesWaiters(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	const waiters = 4
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := q.Dequeue(context.Background())
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Seal()
	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			require.True(t, errors.Is(err, ErrDrained))
		case <-time.After(time.Second):
			t.Fatal("waiter not released by Seal")
		}
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	err = q.Enqueue(ctx, ingest.QueueItem{Location: "x"})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueCanceledDequeueLeavesItemsQueued(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for _, loc := range []ingest.Location{"a", "b"} {
		require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{Location: loc}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, q.Len())
}

func TestQueueClear(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for _, loc := range []ingest.Location{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{Location: loc}))
	}
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, q.Clear())
	require.Zero(t, q.Len())
}

func TestQueueConcurrentConsumersSeeEachItemOnce(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	const n = 2000
	var (
		mu   sync.Mutex
		seen = make(map[ingest.Location]int, n)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Dequeue(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen[item.Location]++
				mu.Unlock()
			}
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{Location: ingest.Location(fmt.Sprint(i))}))
	}
	q.Seal()
	wg.Wait()

	require.Len(t, seen, n)
	for loc, count := range seen {
		require.Equal(t, 1, count, loc)
	}
}
