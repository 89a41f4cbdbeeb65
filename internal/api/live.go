package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/archive-ingest/internal/progress"
)

// Snapshotter exposes the counters of a run in flight.
type Snapshotter interface {
	Snapshot() progress.Snapshot
}

// Pending reports how many locations are still queued.
type Pending interface {
	Len() int
}

// LiveRun tracks the run currently executing in this process.
type LiveRun struct {
	mu      sync.RWMutex
	runID   uuid.UUID
	state   Snapshotter
	pending Pending
}

// Track replaces the tracked run.
func (l *LiveRun) Track(runID uuid.UUID, pending Pending, state Snapshotter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runID = runID
	l.pending = pending
	l.state = state
}

// View is the JSON shape of the live run.
type View struct {
	RunID             string   `json:"run_id"`
	Discovered        int      `json:"discovered"`
	Processed         int      `json:"processed"`
	Queued            int      `json:"queued"`
	DiscoveryComplete bool     `json:"discovery_complete"`
	Percent           *int     `json:"percent,omitempty"`
	ETASeconds        *float64 `json:"eta_seconds,omitempty"`
	ElapsedSeconds    float64  `json:"elapsed_seconds"`
}

// View returns the current view. ok is false when no run has started.
func (l *LiveRun) View() (View, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == nil {
		return View{}, false
	}
	snap := l.state.Snapshot()
	v := View{
		RunID:             l.runID.String(),
		Discovered:        snap.Discovered,
		Processed:         snap.Processed,
		DiscoveryComplete: snap.DiscoveryComplete,
		ElapsedSeconds:    snap.Elapsed.Round(time.Millisecond).Seconds(),
	}
	if l.pending != nil {
		v.Queued = l.pending.Len()
	}
	if pct, ok := snap.Percent(); ok {
		v.Percent = &pct
	}
	if eta, ok := snap.ETA(); ok {
		secs := eta.Round(time.Second).Seconds()
		v.ETASeconds = &secs
	}
	return v, true
}
