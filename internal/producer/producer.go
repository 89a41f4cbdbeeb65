// Package producer drains the crawler into the ingestion queue.
package producer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/progress"
)

// Leaves yields discovered file locations until exhausted.
type Leaves interface {
	NextLeaf(ctx context.Context) (ingest.Location, bool, error)
	Close() error
}

// Producer owns the crawler for the lifetime of a run.
type Producer struct {
	leaves   Leaves
	queue    ingest.Queue
	state    *progress.State
	renderer *progress.Renderer
	events   progress.Emitter
	clock    ingest.Clock
	runID    [16]byte
	logger   *zap.Logger
}

// New constructs a Producer. renderer and events may be nil.
func New(
	leaves Leaves,
	queue ingest.Queue,
	state *progress.State,
	renderer *progress.Renderer,
	events progress.Emitter,
	clock ingest.Clock,
	runID [16]byte,
	logger *zap.Logger,
) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = progress.Discard
	}
	return &Producer{
		leaves:   leaves,
		queue:    queue,
		state:    state,
		renderer: renderer,
		events:   events,
		clock:    clock,
		runID:    runID,
		logger:   logger,
	}
}

// Run enqueues every leaf and returns the discovered total. The queue is sealed on
// every return path. A crawler failure clears the queue and is returned as an
// *ingest.DiscoveryError. When ctx ends, discovery stops, already queued locations are
// kept, and the context error is returned.
func (p *Producer) Run(ctx context.Context) (int, error) {
	defer func() {
		if err := p.leaves.Close(); err != nil {
			p.logger.Warn("close crawler", zap.Error(err))
		}
	}()

	count := 0
	for {
		loc, ok, err := p.leaves.NextLeaf(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return count, p.stop(ctx, count)
			}
			return count, p.abort(count, err)
		}
		if !ok {
			break
		}

		count = p.state.AddDiscovered()
		if err := p.queue.Enqueue(ctx, ingest.QueueItem{Location: loc, Attempt: 1}); err != nil {
			if ctx.Err() != nil {
				return count, p.stop(ctx, count)
			}
			return count, p.abort(count, fmt.Errorf("enqueue %s: %w", loc, err))
		}
		p.renderer.Discovery(count)
		p.emit(progress.Event{Stage: progress.StageDiscovered, Location: loc.String()})
		p.logger.Debug("location discovered", zap.String("location", loc.String()), zap.Int("discovered", count))
	}

	p.state.CompleteDiscovery(count)
	p.queue.Seal()
	p.renderer.DiscoveryDone(count)
	p.emit(progress.Event{Stage: progress.StageDiscoveryDone, Count: int64(count)})
	p.logger.Info("discovery complete", zap.Int("discovered", count))
	return count, nil
}

// stop ends discovery early without discarding queued work.
func (p *Producer) stop(ctx context.Context, count int) error {
	p.queue.Seal()
	p.logger.Info("discovery stopped",
		zap.Int("discovered", count),
		zap.Int("queued", p.queue.Len()),
		zap.NamedError("cause", context.Cause(ctx)),
	)
	return fmt.Errorf("discovery stopped: %w", ctx.Err())
}

func (p *Producer) abort(count int, err error) error {
	dropped := p.queue.Clear()
	p.queue.Seal()
	p.logger.Error("discovery aborted",
		zap.Int("discovered", count),
		zap.Int("dropped", dropped),
		zap.Error(err),
	)
	return &ingest.DiscoveryError{Discovered: count, Err: err}
}

func (p *Producer) emit(evt progress.Event) {
	evt.RunID = p.runID
	evt.TS = p.clock.Now()
	p.events.Emit(evt)
}
