package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/orchestrator"
	"github.com/JakeFAU/archive-ingest/internal/progress"
	queuemem "github.com/JakeFAU/archive-ingest/internal/queue/memory"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Runs one ingestion pass over the configured archive",
		Long: `Discovers every file below source.root and converts it with pool.workers
workers. The pool gets pool.timeout to drain the queue; files still queued when it
expires are picked up by the next run.`,
		RunE: runIngest,
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(cmd.Context())
	defer stopWatch()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := rt.app.Ingest(ctx, func(_ uuid.UUID, queue *queuemem.Queue, _ *progress.State) {
		orchestrator.NewShutdownObserver(queue, rt.logger.Named("shutdown")).Watch(watchCtx)
	})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	rt.logger.Info("ingest finished",
		zap.String("run_id", res.RunID.String()),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Int("remaining", res.Remaining),
		zap.String("written", humanize.Bytes(uint64(max(res.Bytes, 0)))),
		zap.Bool("timed_out", res.TimedOut),
	)
	return nil
}
