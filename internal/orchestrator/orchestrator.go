// Package orchestrator wires one ingestion run: the producer crawling the archive,
// the worker pool draining the queue and the pool timeout.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/archive-ingest/internal/clock/system"
	"github.com/JakeFAU/archive-ingest/internal/crawler"
	"github.com/JakeFAU/archive-ingest/internal/dispatcher"
	idgen "github.com/JakeFAU/archive-ingest/internal/id/uuid"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/listing"
	"github.com/JakeFAU/archive-ingest/internal/logging"
	"github.com/JakeFAU/archive-ingest/internal/producer"
	"github.com/JakeFAU/archive-ingest/internal/progress"
	queuemem "github.com/JakeFAU/archive-ingest/internal/queue/memory"
	"github.com/JakeFAU/archive-ingest/internal/worker"
)

// Defaults applied to a zero Config.
const (
	DefaultTimeout      = time.Minute
	DefaultPollInterval = 10 * time.Millisecond
)

// errPoolTimeout is the cancellation cause when the pool deadline ends a run.
var errPoolTimeout = errors.New("worker pool timed out")

// Config controls a run.
type Config struct {
	Root         string
	Workers      int
	Timeout      time.Duration
	PollInterval time.Duration
	Extension    string
	// RunID identifies the run; uuid.Nil draws a fresh one from Deps.IDs.
	RunID uuid.UUID
}

// RunIDGenerator issues run identifiers.
type RunIDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Deps are the collaborators of a run.
type Deps struct {
	Source    listing.Opener
	Store     ingest.ArtifactStore
	Validator ingest.ArtifactValidator
	Converter ingest.Converter
	Clock     ingest.Clock
	IDs       RunIDGenerator
	Renderer  *progress.Renderer
	Events    progress.Emitter
	// OnStart is called with the run's queue and state before the producer starts.
	OnStart func(runID uuid.UUID, queue *queuemem.Queue, state *progress.State)
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID      uuid.UUID
	Discovered int
	Processed  int
	Skipped    int
	Requeued   int
	Failed     int
	Remaining  int
	Bytes      int64
	TimedOut   bool
	Elapsed    time.Duration
}

// Orchestrator runs ingestion passes.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = dispatcher.DefaultSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}
}

// Run performs one full pass. The pool is started once the queue holds work or
// discovery has ended, and is given cfg.Timeout to drain. A timeout is not an error;
// a fatal discovery error or a canceled ctx is.
func (o *Orchestrator) Run(ctx context.Context) (RunResult, error) {
	runID := o.cfg.RunID
	if runID == uuid.Nil {
		var err error
		if runID, err = o.deps.IDs.NewRunID(); err != nil {
			return RunResult{}, err
		}
	}
	rid := progress.UUIDToBytes(runID)
	logger := logging.ForRun(o.logger, runID.String())

	state := progress.NewState(o.deps.Clock)
	queue := queuemem.NewQueue()
	tally := &worker.Tally{}
	if o.deps.OnStart != nil {
		o.deps.OnStart(runID, queue, state)
	}

	o.emit(rid, progress.Event{Stage: progress.StageRunStart})
	logger.Info("run started",
		zap.String("root", o.cfg.Root),
		zap.Int("workers", o.cfg.Workers),
		zap.Duration("timeout", o.cfg.Timeout),
	)

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	g, gctx := errgroup.WithContext(runCtx)

	var timedOut atomic.Bool
	prod := producer.New(
		crawler.New(o.deps.Source, o.cfg.Root, logger.Named("crawler")),
		queue, state, o.deps.Renderer, o.deps.Events, o.deps.Clock, rid,
		logger.Named("producer"),
	)
	g.Go(func() error {
		_, perr := prod.Run(gctx)
		if perr != nil && timedOut.Load() {
			return nil
		}
		return perr
	})

	pool := dispatcher.New(o.workers(queue, state, tally, rid, logger), logger.Named("dispatcher"))
	g.Go(func() error {
		if !o.awaitWork(gctx, queue) {
			return nil
		}
		logger.Debug("starting worker pool", zap.Int("queued", queue.Len()))
		poolCtx, cancel := context.WithTimeout(gctx, o.cfg.Timeout)
		defer cancel()
		perr := pool.Run(poolCtx)
		if errors.Is(poolCtx.Err(), context.DeadlineExceeded) && gctx.Err() == nil {
			timedOut.Store(true)
			cancelRun(errPoolTimeout)
			return nil
		}
		if errors.Is(perr, context.Canceled) {
			return nil
		}
		return perr
	})

	runErr := g.Wait()
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	snap := state.Snapshot()
	totals := tally.Totals()
	res := RunResult{
		RunID:      runID,
		Discovered: snap.Discovered,
		Processed:  totals.Processed,
		Skipped:    totals.Skipped,
		Requeued:   totals.Requeued,
		Failed:     totals.Failed,
		Remaining:  queue.Len(),
		Bytes:      totals.Bytes,
		TimedOut:   timedOut.Load(),
		Elapsed:    o.deps.Clock.Now().Sub(state.StartedAt()),
	}

	fields := []zap.Field{
		zap.Int("discovered", res.Discovered),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("requeued", res.Requeued),
		zap.Int("failed", res.Failed),
		zap.Int("remaining", res.Remaining),
		zap.Duration("elapsed", res.Elapsed),
	}
	if res.TimedOut {
		logger.Warn("worker pool timed out; remaining locations left unprocessed", fields...)
	}

	if runErr != nil {
		if ctx.Err() != nil {
			runErr = fmt.Errorf("run interrupted: %w", ctx.Err())
		}
		o.emit(rid, progress.Event{Stage: progress.StageRunError, Dur: res.Elapsed, Count: int64(res.Discovered), Note: runErr.Error()})
		logger.Error("run failed", append(fields, zap.Error(runErr))...)
		return res, runErr
	}
	o.emit(rid, progress.Event{Stage: progress.StageRunDone, Dur: res.Elapsed, Count: int64(res.Discovered)})
	logger.Info("run finished", fields...)
	return res, nil
}

// awaitWork polls until the queue holds work or discovery ended (the queue is sealed
// on every producer exit). false means ctx ended.
func (o *Orchestrator) awaitWork(ctx context.Context, queue *queuemem.Queue) bool {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if queue.Len() > 0 {
			return true
		}
		if queue.Sealed() {
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) workers(
	queue *queuemem.Queue,
	state *progress.State,
	tally *worker.Tally,
	rid [16]byte,
	logger *zap.Logger,
) []dispatcher.Runner {
	deps := worker.Deps{
		Queue:     queue,
		Store:     o.deps.Store,
		Validator: o.deps.Validator,
		Converter: o.deps.Converter,
		State:     state,
		Renderer:  o.deps.Renderer,
		Events:    o.deps.Events,
		Tally:     tally,
		Clock:     o.deps.Clock,
		RunID:     rid,
	}
	out := make([]dispatcher.Runner, o.cfg.Workers)
	for i := range out {
		out[i] = worker.New(deps, worker.Config{Extension: o.cfg.Extension}, logger.Named("worker").With(zap.Int("index", i)))
	}
	return out
}

func (o *Orchestrator) emit(rid [16]byte, evt progress.Event) {
	evt.RunID = rid
	evt.TS = o.deps.Clock.Now()
	o.deps.Events.Emit(evt)
}
