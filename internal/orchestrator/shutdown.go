package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Pending reports how much work is still queued.
type Pending interface {
	Len() int
}

// ShutdownObserver logs what is left in the queue when the process is interrupted.
// It only observes; stopping the run is up to whoever owns the context.
type ShutdownObserver struct {
	pending Pending
	logger  *zap.Logger
	signals chan os.Signal
}

// NewShutdownObserver watches pending.
func NewShutdownObserver(pending Pending, logger *zap.Logger) *ShutdownObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShutdownObserver{pending: pending, logger: logger, signals: make(chan os.Signal, 1)}
}

// Watch subscribes to SIGINT and SIGTERM until ctx ends.
func (s *ShutdownObserver) Watch(ctx context.Context) {
	signal.Notify(s.signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(s.signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-s.signals:
				s.Observe(sig)
			}
		}
	}()
}

// Observe reports the queue state for sig.
func (s *ShutdownObserver) Observe(sig os.Signal) {
	if n := s.pending.Len(); n > 0 {
		s.logger.Warn("interrupt received with unfinished work",
			zap.String("signal", sig.String()),
			zap.Int("remaining", n),
		)
		return
	}
	s.logger.Info("interrupt received", zap.String("signal", sig.String()))
}
