package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the ingest_runs.status column.
type RunStatus string

// Run statuses persisted in ingest_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Counters are per-run outcome tallies. Repositories add them as deltas.
type Counters struct {
	Processed int64
	Skipped   int64
	Requeued  int64
	Failed    int64
	Bytes     int64
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Run models one row of ingest_runs.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	Discovered   int64
	Counters
	LastUpdate time.Time
}

// RunRepository persists the run ledger.
type RunRepository interface {
	// UpsertRunStart inserts the run as running, or leaves an existing row untouched.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// SetDiscovered records the final discovered total.
	SetDiscovered(ctx context.Context, runID uuid.UUID, total int64, at time.Time) error
	// AddCounters applies outcome deltas.
	AddCounters(ctx context.Context, runID uuid.UUID, delta Counters, at time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
