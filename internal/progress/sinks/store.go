package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/progress"
	"github.com/JakeFAU/archive-ingest/internal/store"
)

// StoreSink persists run progress through a store.RunRepository. Per-location events
// are collapsed into one counter delta per run and batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type counterDelta struct {
	counters store.Counters
	at       time.Time
}

// Consume applies the batch to the repository, returning repository errors wrapped.
// Run completion is written after the counters of the same batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*counterDelta)
	var finals []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageDiscoveryDone:
			if err := s.repo.SetDiscovered(ctx, runID, evt.Count, evt.TS); err != nil {
				return fmt.Errorf("set discovered: %w", err)
			}
		case progress.StageProcessed, progress.StageSkipped, progress.StageRequeued, progress.StageFailed:
			recordDelta(deltas, runID, evt)
		case progress.StageRunDone, progress.StageRunError:
			finals = append(finals, evt)
		}
	}

	for runID, delta := range deltas {
		if err := s.repo.AddCounters(ctx, runID, delta.counters, delta.at); err != nil {
			return fmt.Errorf("add run counters: %w", err)
		}
	}
	for _, evt := range finals {
		status := store.RunSuccess
		var note *string
		if evt.Stage == progress.StageRunError {
			status = store.RunError
			if evt.Note != "" {
				msg := evt.Note
				note = &msg
			}
		}
		if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func recordDelta(deltas map[uuid.UUID]*counterDelta, runID uuid.UUID, evt progress.Event) {
	d := deltas[runID]
	if d == nil {
		d = &counterDelta{}
		deltas[runID] = d
	}
	switch evt.Stage {
	case progress.StageProcessed:
		d.counters.Processed++
		d.counters.Bytes += evt.Bytes
	case progress.StageSkipped:
		d.counters.Skipped++
	case progress.StageRequeued:
		d.counters.Requeued++
	case progress.StageFailed:
		d.counters.Failed++
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
