package listing

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

type trackingReadCloser struct {
	io.Reader
	closes int
}

func (t *trackingReadCloser) Close() error {
	t.closes++
	return nil
}

func drain(t *testing.T, c Cursor) []ingest.Record {
	t.Helper()
	var out []ingest.Record
	for {
		rec, ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}

func TestLineCursorHeaderIsAdvisory(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		"total 5",
		"-rw-r--r-- 1 ftp ftp 10 Mar 12 2012 a.nc",
		"-rw-r--r-- 1 ftp ftp 10 Mar 12 2012 b.nc",
		"-rw-r--r-- 1 ftp ftp 10 Mar 12 2012 c.nc",
	}, "\n")
	rc := &trackingReadCloser{Reader: strings.NewReader(body)}
	c := NewLineCursor(rc, nil)

	require.Equal(t, 5, c.DeclaredTotal())
	records := drain(t, c)
	require.Len(t, records, 3)
	require.Equal(t, "c.nc", records[2].Name)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, 1, rc.closes)
}

func TestLineCursorSkipsSyntheticAndMalformedEntries(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		"total 4",
		"drwxr-xr-x 4 ftp ftp 4096 Mar 12 2012 .",
		"drwxr-xr-x 9 ftp ftp 4096 Mar 12 2012 ..",
		"this line is not a listing record",
		"",
		"drwxr-xr-x 2 ftp ftp 4096 Mar 12 2012 cycle_002",
		"-rw-r--r-- 1 ftp ftp 10 Mar 12 2012 z.nc",
	}, "\n")
	core, logs := observer.New(zapcore.WarnLevel)
	c := NewLineCursor(io.NopCloser(strings.NewReader(body)), zap.New(core))

	records := drain(t, c)
	require.Equal(t, []ingest.Record{
		{Name: "cycle_002", IsDirectory: true, Permissions: "drwxr-xr-x"},
		{Name: "z.nc", Permissions: "-rw-r--r--"},
	}, records)
	require.NoError(t, c.Close())

	closed := logs.FilterMessage("listing closed with malformed lines").All()
	require.Len(t, closed, 1)
	require.Equal(t, int64(1), closed[0].ContextMap()["skipped"])
	require.Equal(t, 1, logs.FilterMessage("skipping malformed listing line").Len())
}

func TestLineCursorWithoutHeader(t *testing.T) {
	t.Parallel()

	c := NewLineCursor(io.NopCloser(strings.NewReader("-rw-r--r-- 1 ftp ftp 10 Mar 12 2012 only.nc\n")), nil)
	require.Equal(t, -1, c.DeclaredTotal())
	records := drain(t, c)
	require.Len(t, records, 1)
	require.Equal(t, "only.nc", records[0].Name)
}

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestLineCursorSurfacesReadErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	rc := io.NopCloser(&failingReader{
		data: []byte("total 2\n-rw-r--r-- 1 ftp ftp 10 Mar 12 2012 a.nc\n"),
		err:  boom,
	})
	c := NewLineCursor(rc, nil)

	rec, ok, err := c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a.nc", rec.Name)

	_, ok, err = c.Next()
	require.False(t, ok)
	require.ErrorIs(t, err, boom)
}

func TestRecordCursor(t *testing.T) {
	t.Parallel()

	closes := 0
	c := NewRecordCursor([]ingest.Record{
		{Name: "."},
		{Name: ".."},
		{Name: "dir", IsDirectory: true},
		{Name: "f.nc"},
	}, func() error {
		closes++
		return nil
	})
	require.Equal(t, 4, c.DeclaredTotal())
	require.Len(t, drain(t, c), 2)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, 1, closes)
}
