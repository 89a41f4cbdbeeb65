// Package dispatcher runs a fixed-size pool of workers over the ingestion queue.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DefaultSize is the pool size used when none is configured.
const DefaultSize = 8

// Runner is one pool member.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher fans queue work out to a pool of workers.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher over workers.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger}
}

// Size returns the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts every worker and blocks until all of them return. It returns nil when
// the workers drained the queue, ctx's error when they were cut short, and any other
// worker failure joined.
func (d *Dispatcher) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, w := range d.workers {
		wg.Add(1)
		go func(index int, wk Runner) {
			defer wg.Done()
			if err := wk.Run(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					d.logger.Error("worker stopped with error", zap.Int("index", index), zap.Error(err))
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i, w)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(errs...)
}
