// Package worker converts queued locations into artifacts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
	"github.com/JakeFAU/archive-ingest/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// Extension of artifact keys, ".geojson" by default.
	Extension string
}

// Tally aggregates per-location outcomes across every worker of a pool.
type Tally struct {
	processed atomic.Int64
	skipped   atomic.Int64
	requeued  atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

// Totals is a point-in-time copy of a Tally.
type Totals struct {
	Processed int
	Skipped   int
	Requeued  int
	Failed    int
	Bytes     int64
}

// Totals copies the counters.
func (t *Tally) Totals() Totals {
	return Totals{
		Processed: int(t.processed.Load()),
		Skipped:   int(t.skipped.Load()),
		Requeued:  int(t.requeued.Load()),
		Failed:    int(t.failed.Load()),
		Bytes:     t.bytes.Load(),
	}
}

// Deps groups the collaborators shared by every worker of a run.
type Deps struct {
	Queue     ingest.Queue
	Store     ingest.ArtifactStore
	Validator ingest.ArtifactValidator
	Converter ingest.Converter
	State     *progress.State
	Renderer  *progress.Renderer
	Events    progress.Emitter
	Tally     *Tally
	Clock     ingest.Clock
	RunID     [16]byte
}

// Worker consumes queue items until the queue drains or its context ends.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Tally == nil {
		deps.Tally = &Tally{}
	}
	if cfg.Extension == "" {
		cfg.Extension = ".geojson"
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks until the sealed queue is drained (nil) or ctx ends (ctx error).
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ingest.ErrDrained) {
				w.logger.Debug("queue drained")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item ingest.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	loc := item.Location
	key := ingest.OutputKey(loc, w.cfg.Extension)

	if !item.Requeued {
		switch w.checkExisting(ctx, key) {
		case outputValid:
			w.deps.Tally.skipped.Add(1)
			w.emit(progress.Event{Stage: progress.StageSkipped, Location: loc.String(), Key: key})
			w.logger.Debug("artifact already valid; skipping", zap.String("location", loc.String()), zap.String("key", key))
			return
		case outputCorrupt:
			w.requeue(ctx, item, key)
			return
		}
	}

	art, err := w.deps.Converter.Convert(ctx, loc)
	if err != nil {
		w.deps.Tally.failed.Add(1)
		w.emit(progress.Event{Stage: progress.StageFailed, Location: loc.String(), Key: key, Note: err.Error()})
		w.logger.Error("conversion failed",
			zap.String("location", loc.String()),
			zap.Int("attempt", item.Attempt),
			zap.Error(err),
		)
		return
	}

	snap := w.deps.State.MarkProcessed()
	w.deps.Tally.processed.Add(1)
	w.deps.Tally.bytes.Add(art.Bytes)
	w.deps.Renderer.Conversion(snap)
	w.emit(progress.Event{
		Stage:    progress.StageProcessed,
		Location: loc.String(),
		Key:      art.Key,
		Bytes:    art.Bytes,
		Dur:      art.Duration,
	})
	w.logger.Info("processed file",
		zap.String("location", loc.String()),
		zap.String("artifact_uri", art.URI),
		zap.Duration("duration", art.Duration),
	)
}

type outputStatus int

const (
	outputMissing outputStatus = iota
	outputValid
	outputCorrupt
)

func (w *Worker) checkExisting(ctx context.Context, key string) outputStatus {
	exists, err := w.deps.Store.Exists(ctx, key)
	if err != nil {
		w.logger.Warn("artifact lookup failed; converting", zap.String("key", key), zap.Error(err))
		return outputMissing
	}
	if !exists {
		return outputMissing
	}
	data, err := w.deps.Store.Get(ctx, key)
	if err != nil {
		w.logger.Warn("artifact read failed", zap.String("key", key), zap.Error(err))
		return outputCorrupt
	}
	if err := w.deps.Validator.Validate(data); err != nil {
		w.logger.Warn("artifact corrupted", zap.String("key", key), zap.Error(err))
		return outputCorrupt
	}
	return outputValid
}

func (w *Worker) requeue(ctx context.Context, item ingest.QueueItem, key string) {
	next := ingest.QueueItem{Location: item.Location, Attempt: item.Attempt + 1, Requeued: true}
	if err := w.deps.Queue.Enqueue(ctx, next); err != nil {
		w.deps.Tally.failed.Add(1)
		w.emit(progress.Event{Stage: progress.StageFailed, Location: item.Location.String(), Key: key, Note: err.Error()})
		w.logger.Error("requeue failed", zap.String("location", item.Location.String()), zap.Error(err))
		return
	}
	w.deps.Tally.requeued.Add(1)
	w.emit(progress.Event{Stage: progress.StageRequeued, Location: item.Location.String(), Key: key})
	w.logger.Info("corrupted artifact requeued", zap.String("location", item.Location.String()), zap.String("key", key))
}

func (w *Worker) emit(evt progress.Event) {
	evt.RunID = w.deps.RunID
	evt.TS = w.deps.Clock.Now()
	w.deps.Events.Emit(evt)
}
