package listing

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
)

// Opener opens one remote directory listing. Implementations are transports.
type Opener interface {
	Open(ctx context.Context, path string) (Cursor, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, path string) (Cursor, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, path string) (Cursor, error) {
	return f(ctx, path)
}

// RetryingSource applies a retry policy to the initial open of every listing.
// Reads from an opened cursor are never retried.
type RetryingSource struct {
	opener Opener
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingSource wraps opener. A nil policy uses the fixed defaults.
func NewRetryingSource(opener Opener, policy RetryPolicy, logger *zap.Logger) *RetryingSource {
	if policy == nil {
		policy = NewFixedRetryPolicy(DefaultRetryAttempts, DefaultRetryDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingSource{opener: opener, policy: policy, logger: logger}
}

// Open opens path, retrying transient failures. Exhausting the policy returns an
// *ingest.ConnectionError.
func (s *RetryingSource) Open(ctx context.Context, path string) (Cursor, error) {
	var cursor Cursor
	attempts, err := Retry(ctx, s.policy, func(ctx context.Context) error {
		c, openErr := s.opener.Open(ctx, path)
		if openErr != nil {
			s.logger.Warn("listing open failed",
				zap.String("path", path),
				zap.Error(openErr),
			)
			return openErr
		}
		cursor = c
		return nil
	})
	metrics.ObserveListingOpen(err == nil, attempts)
	if err != nil {
		return nil, &ingest.ConnectionError{Path: path, Attempts: attempts, Err: err}
	}
	if attempts > 1 {
		s.logger.Info("listing opened after retries", zap.String("path", path), zap.Int("attempts", attempts))
	}
	return cursor, nil
}
