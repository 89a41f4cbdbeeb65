package listing

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

func TestRetryingSourceRecoversFromTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	opener := OpenerFunc(func(_ context.Context, path string) (Cursor, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("421 too many connections")
		}
		return NewLineCursor(io.NopCloser(strings.NewReader("total 0\n")), nil), nil
	})
	src := NewRetryingSource(opener, NewFixedRetryPolicy(5, 0), nil)

	cursor, err := src.Open(context.Background(), "ftp://host/pub/")
	require.NoError(t, err)
	require.NotNil(t, cursor)
	require.Equal(t, int32(3), calls.Load())
	require.NoError(t, cursor.Close())
}

func TestRetryingSourceGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	refused := errors.New("connection refused")
	opener := OpenerFunc(func(context.Context, string) (Cursor, error) {
		calls.Add(1)
		return nil, refused
	})
	src := NewRetryingSource(opener, NewFixedRetryPolicy(4, time.Millisecond), nil)

	_, err := src.Open(context.Background(), "ftp://host/pub/")
	require.ErrorIs(t, err, ingest.ErrConnection)
	require.ErrorIs(t, err, refused)

	var connErr *ingest.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, 4, connErr.Attempts)
	require.Equal(t, "ftp://host/pub/", connErr.Path)
	require.Equal(t, int32(4), calls.Load())
}

func TestRetryingSourceStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	opener := OpenerFunc(func(context.Context, string) (Cursor, error) {
		cancel()
		return nil, errors.New("timeout")
	})
	src := NewRetryingSource(opener, NewFixedRetryPolicy(20, time.Hour), nil)

	start := time.Now()
	_, err := src.Open(ctx, "ftp://host/pub/")
	require.ErrorIs(t, err, ingest.ErrConnection)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}
