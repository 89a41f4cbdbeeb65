package progress

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStateCountersAreConsistentUnderContention(t *testing.T) {
	t.Parallel()

	s := NewState(nil)
	const workers, perWorker = 8, 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < workers*perWorker; i++ {
			s.AddDiscovered()
		}
	}()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.MarkProcessed()
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()
	s.CompleteDiscovery(workers * perWorker)

	snap := s.Snapshot()
	require.Equal(t, workers*perWorker, snap.Discovered)
	require.Equal(t, workers*perWorker, snap.Processed)
	require.True(t, snap.DiscoveryComplete)
	pct, ok := snap.Percent()
	require.True(t, ok)
	require.Equal(t, 100, pct)
}

func TestSnapshotPercentAndETA(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewState(clock)
	require.Equal(t, time.Unix(1000, 0), s.StartedAt())
	for i := 0; i < 10; i++ {
		s.AddDiscovered()
	}

	snap := s.Snapshot()
	_, ok := snap.Percent()
	require.False(t, ok, "percent undefined before discovery completes")
	_, ok = snap.ETA()
	require.False(t, ok, "eta undefined before anything was processed")

	s.CompleteDiscovery(10)
	clock.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		snap = s.MarkProcessed()
	}
	pct, ok := snap.Percent()
	require.True(t, ok)
	require.Equal(t, 30, pct)

	eta, ok := snap.ETA()
	require.True(t, ok)
	require.Equal(t, 70*time.Second, eta)
}

func TestSnapshotPercentFloors(t *testing.T) {
	t.Parallel()

	snap := Snapshot{Discovered: 3, Processed: 2, DiscoveryComplete: true}
	pct, ok := snap.Percent()
	require.True(t, ok)
	assert.Equal(t, 66, pct)

	_, ok = Snapshot{DiscoveryComplete: true}.Percent()
	assert.False(t, ok)
}

func TestSnapshotETANeverNegative(t *testing.T) {
	t.Parallel()

	eta, ok := Snapshot{Discovered: 2, Processed: 3, Elapsed: time.Minute}.ETA()
	require.True(t, ok)
	require.Zero(t, eta)
}

func TestFormatBar(t *testing.T) {
	t.Parallel()

	line, ok := FormatBar(Snapshot{
		Discovered:        10,
		Processed:         3,
		DiscoveryComplete: true,
		Elapsed:           90 * time.Second,
	})
	require.True(t, ok)
	require.Equal(t, "[***-------] 30%(3/10)  - Still 3.50 mn", line)

	_, ok = FormatBar(Snapshot{Discovered: 10, Processed: 3})
	require.False(t, ok)
}

func TestRenderer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRenderer(&buf, true)
	r.Discovery(1234)
	require.Equal(t, "\r Indexing 1,234 files", buf.String())

	buf.Reset()
	r.Conversion(Snapshot{Discovered: 2, Processed: 1})
	require.Empty(t, buf.String())

	r.Conversion(Snapshot{Discovered: 2, Processed: 2, DiscoveryComplete: true, Elapsed: time.Second})
	require.Equal(t, "\r[**********] 100%(2/2)  - Still 0.00 mn\n", buf.String())

	buf.Reset()
	quiet := NewRenderer(&buf, false)
	quiet.Discovery(1)
	require.Empty(t, buf.String())
}
