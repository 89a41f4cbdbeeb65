package progress

import (
	"sync"
	"time"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// State is the shared progress record of one run. Every read and write goes through its
// mutex so that the producer and all workers observe a consistent view.
type State struct {
	mu                sync.Mutex
	clock             ingest.Clock
	startedAt         time.Time
	discovered        int
	processed         int
	discoveryComplete bool
}

// Snapshot is an immutable copy of State.
type Snapshot struct {
	StartedAt         time.Time
	Elapsed           time.Duration
	Discovered        int
	Processed         int
	DiscoveryComplete bool
}

// NewState fixes the run start time from clock. A nil clock uses the system clock.
func NewState(clock ingest.Clock) *State {
	if clock == nil {
		clock = systemClock{}
	}
	return &State{clock: clock, startedAt: clock.Now()}
}

// StartedAt returns the fixed run start time.
func (s *State) StartedAt() time.Time {
	return s.startedAt
}

// AddDiscovered counts one more discovered location and returns the new total.
func (s *State) AddDiscovered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovered++
	return s.discovered
}

// CompleteDiscovery records the final discovered total and flips the completion flag.
func (s *State) CompleteDiscovery(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovered = total
	s.discoveryComplete = true
}

// MarkProcessed counts one converted location and returns the resulting snapshot.
func (s *State) MarkProcessed() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	return s.snapshotLocked()
}

// Snapshot copies the current counters.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		StartedAt:         s.startedAt,
		Elapsed:           s.clock.Now().Sub(s.startedAt),
		Discovered:        s.discovered,
		Processed:         s.processed,
		DiscoveryComplete: s.discoveryComplete,
	}
}

// Percent returns floor(100*processed/discovered). ok is false until discovery is
// complete or when nothing was discovered.
func (s Snapshot) Percent() (pct int, ok bool) {
	if !s.DiscoveryComplete || s.Discovered <= 0 {
		return 0, false
	}
	return 100 * s.Processed / s.Discovered, true
}

// ETA extrapolates the remaining time from the mean time per processed location.
// ok is false until at least one location was processed.
func (s Snapshot) ETA() (time.Duration, bool) {
	if s.Processed <= 0 {
		return 0, false
	}
	remaining := s.Discovered - s.Processed
	if remaining < 0 || s.Elapsed < 0 {
		return 0, true
	}
	perItem := s.Elapsed / time.Duration(s.Processed)
	return time.Duration(remaining) * perItem, true
}
