package memory

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeListsDirectoriesAndFiles(t *testing.T) {
	t.Parallel()

	tree := NewTree("mem://archive")
	tree.AddFile("cycle_001/a.nc", []byte("alpha"))
	tree.AddDir("cycle_002")

	cursor, err := tree.Open(context.Background(), tree.Root())
	require.NoError(t, err)
	require.Equal(t, 4, cursor.DeclaredTotal())

	rec, ok, err := cursor.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.IsDirectory)
	require.Equal(t, "cycle_001", rec.Name)

	rec, ok, err = cursor.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cycle_002", rec.Name)

	_, ok, err = cursor.Next()
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, 1, tree.OpenCursors())
	require.NoError(t, cursor.Close())
	require.Equal(t, 0, tree.OpenCursors())
}

func TestTreeFailOpensAndFetch(t *testing.T) {
	t.Parallel()

	tree := NewTree("mem://archive/")
	loc := tree.AddFile("x/y/z.nc", []byte("payload"))
	require.Equal(t, "mem://archive/x/y/z.nc", loc.String())

	tree.FailOpens("x", 1)
	_, err := tree.Open(context.Background(), "mem://archive/x/")
	require.Error(t, err)
	cursor, err := tree.Open(context.Background(), "mem://archive/x/")
	require.NoError(t, err)
	require.NoError(t, cursor.Close())
	require.Equal(t, 1, tree.Opens("x"))

	rc, err := tree.Fetch(context.Background(), loc)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
	require.NoError(t, rc.Close())

	_, err = tree.Fetch(context.Background(), "mem://archive/missing.nc")
	require.ErrorIs(t, err, ErrNotFound)
}
