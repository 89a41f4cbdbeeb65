package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-ingest/internal/artifact"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/progress"
	queuemem "github.com/JakeFAU/archive-ingest/internal/queue/memory"
	storagemem "github.com/JakeFAU/archive-ingest/internal/storage/memory"
	"github.com/JakeFAU/archive-ingest/internal/worker"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestDispatcherWaitsForAllWorkers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	ran := 0
	workers := make([]Runner, 4)
	for i := range workers {
		workers[i] = runnerFunc(func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
	}
	d := New(workers, nil)
	require.Equal(t, 4, d.Size())
	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, 4, ran)
}

func TestDispatcherReturnsContextError(t *testing.T) {
	t.Parallel()

	blocker := runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := New([]Runner{blocker, blocker}, nil).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherJoinsWorkerErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := New([]Runner{
		runnerFunc(func(context.Context) error { return boom }),
		runnerFunc(func(context.Context) error { return nil }),
	}, nil).Run(context.Background())
	require.ErrorIs(t, err, boom)
}

type countingConverter struct {
	mu    sync.Mutex
	calls map[ingest.Location]int
}

func (c *countingConverter) Convert(_ context.Context, loc ingest.Location) (ingest.Artifact, error) {
	c.mu.Lock()
	c.calls[loc]++
	c.mu.Unlock()
	return ingest.Artifact{Source: loc, Key: ingest.OutputKey(loc, "")}, nil
}

type nowClock struct{}

func (nowClock) Now() time.Time { return time.Now() }

func TestPoolOfEightProcessesThousandLocationsExactlyOnce(t *testing.T) {
	t.Parallel()

	const n = 1000
	q := queuemem.NewQueue()
	state := progress.NewState(nowClock{})
	conv := &countingConverter{calls: map[ingest.Location]int{}}
	tally := &worker.Tally{}

	runners := make([]Runner, DefaultSize)
	for i := range runners {
		runners[i] = worker.New(worker.Deps{
			Queue:     q,
			Store:     storagemem.NewBlobStore(),
			Validator: artifact.Validator{},
			Converter: conv,
			State:     state,
			Tally:     tally,
			Clock:     nowClock{},
			RunID:     [16]byte{1},
		}, worker.Config{}, nil)
	}

	done := make(chan error, 1)
	go func() { done <- New(runners, nil).Run(context.Background()) }()

	for i := 0; i < n; i++ {
		state.AddDiscovered()
		require.NoError(t, q.Enqueue(context.Background(), ingest.QueueItem{
			Location: ingest.Location(fmt.Sprintf("/pub/cycle/%04d.nc", i)),
			Attempt:  1,
		}))
		if snap := state.Snapshot(); snap.Processed > snap.Discovered {
			t.Fatalf("processed %d exceeds discovered %d", snap.Processed, snap.Discovered)
		}
	}
	state.CompleteDiscovery(n)
	q.Seal()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pool did not drain")
	}

	require.Equal(t, n, state.Snapshot().Processed)
	require.Equal(t, n, tally.Totals().Processed)
	require.Len(t, conv.calls, n)
	for loc, calls := range conv.calls {
		require.Equal(t, 1, calls, loc)
	}
}
