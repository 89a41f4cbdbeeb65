package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// VerifyReport lists the outcome of a verification pass.
type VerifyReport struct {
	Checked int
	Corrupt []string
}

// Verify reads every stored artifact and checks it with validator. Unreadable and
// malformed artifacts are reported as corrupt; only listing failures are errors.
func Verify(
	ctx context.Context,
	artifacts ArtifactStore,
	validator ingest.ArtifactValidator,
	parallelism int,
	logger *zap.Logger,
) (VerifyReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys, err := artifacts.List(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("list artifacts: %w", err)
	}

	var (
		mu      sync.Mutex
		corrupt []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallelism, 1))
	for _, key := range keys {
		g.Go(func() error {
			data, getErr := artifacts.Get(gctx, key)
			if getErr == nil {
				getErr = validator.Validate(data)
			}
			if getErr == nil {
				return nil
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("corrupt artifact", zap.String("key", key), zap.Error(getErr))
			mu.Lock()
			corrupt = append(corrupt, key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return VerifyReport{}, fmt.Errorf("verify artifacts: %w", err)
	}
	sort.Strings(corrupt)
	return VerifyReport{Checked: len(keys), Corrupt: corrupt}, nil
}

// Verify checks the configured artifact store with the GeoJSON validator.
func (a *App) Verify(ctx context.Context, validator ingest.ArtifactValidator) (VerifyReport, error) {
	return Verify(ctx, a.artifacts, validator, a.cfg.Pool.Workers, a.logger.Named("verify"))
}
