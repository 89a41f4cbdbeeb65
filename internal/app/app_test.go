package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/artifact"
	"github.com/JakeFAU/archive-ingest/internal/config"
	"github.com/JakeFAU/archive-ingest/internal/extract"
	"github.com/JakeFAU/archive-ingest/internal/listing/httpindex"
	"github.com/JakeFAU/archive-ingest/internal/listing/memory"
	"github.com/JakeFAU/archive-ingest/internal/progress"
	queuemem "github.com/JakeFAU/archive-ingest/internal/queue/memory"
	storagemem "github.com/JakeFAU/archive-ingest/internal/storage/memory"
)

type trackExtractor struct{}

func (trackExtractor) Extract(string) (extract.Result, error) {
	return extract.Result{
		Globals:   map[string]any{"mission_name": "OSTM/Jason-2"},
		Variables: map[string]any{"sig0_ku": []any{12.5, nil}},
		Lon:       []float64{181, 182},
		Lat:       []float64{-10, -11},
	}, nil
}

func testConfig(t *testing.T, root string) config.Config {
	t.Helper()
	return config.Config{
		Source: config.SourceConfig{Kind: config.SourceFTP, Root: root, RetryAttempts: 2},
		Output: config.OutputConfig{
			Kind:      config.OutputLocal,
			Dir:       t.TempDir(),
			Extension: ".geojson",
			TempDir:   t.TempDir(),
		},
		Pool: config.PoolConfig{Workers: 3, Timeout: 10 * time.Second, PollInterval: time.Millisecond},
	}
}

func newTestApp(t *testing.T, cfg config.Config, tree *memory.Tree) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zap.NewNop(), Options{
		Registerer: prometheus.NewRegistry(),
		Transport:  tree,
		Extractor:  trackExtractor{},
		Output:     io.Discard,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })
	return a
}

func newArchive() *memory.Tree {
	tree := memory.NewTree("ftp://avisoftp.example.org/pub/jason-2/")
	for i := range 6 {
		tree.AddFile(fmt.Sprintf("cycle_%03d/JA2_GPN_2PdP%03d_%03d.nc", i%2, i%2, i), []byte("CDF"))
	}
	return tree
}

func TestIngestWritesArtifactsAndSkipsOnRerun(t *testing.T) {
	t.Parallel()

	tree := newArchive()
	cfg := testConfig(t, tree.Root())
	a := newTestApp(t, cfg, tree)

	var tracked uuid.UUID
	res, err := a.Ingest(context.Background(), func(id uuid.UUID, _ *queuemem.Queue, _ *progress.State) {
		tracked = id
	})
	require.NoError(t, err)
	require.Equal(t, tracked, res.RunID)
	assert.Equal(t, 6, res.Discovered)
	assert.Equal(t, 6, res.Processed)
	assert.Zero(t, res.Failed)

	data, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "JA2_GPN_2PdP000_000.geojson"))
	require.NoError(t, err)
	fc, err := artifact.Parse(data)
	require.NoError(t, err)
	require.Equal(t, "JA2_GPN_2PdP000_000.nc", fc.Features[0].ID)
	require.Equal(t, "OSTM/Jason-2", fc.Features[0].Properties["mission_name"])

	view, ok := a.Live().View()
	require.True(t, ok)
	require.Equal(t, res.RunID.String(), view.RunID)
	require.Equal(t, 6, view.Processed)

	res, err = a.Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 6, res.Skipped)
}

func TestIngestWithStatusServer(t *testing.T) {
	t.Parallel()

	tree := newArchive()
	cfg := testConfig(t, tree.Root())
	cfg.Metrics.Addr = "127.0.0.1:0"
	a := newTestApp(t, cfg, tree)

	res, err := a.Ingest(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 6, res.Processed)
}

func TestIngestRendersProgress(t *testing.T) {
	t.Parallel()

	tree := newArchive()
	cfg := testConfig(t, tree.Root())
	cfg.Progress.Render = true
	var out bytes.Buffer
	a, err := New(context.Background(), cfg, zap.NewNop(), Options{
		Registerer: prometheus.NewRegistry(),
		Transport:  tree,
		Extractor:  trackExtractor{},
		Output:     &out,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	_, err = a.Ingest(context.Background(), nil)
	require.NoError(t, err)
	require.Contains(t, out.String(), "Indexed 6 files")
}

func TestVerifyReportsCorruptArtifacts(t *testing.T) {
	t.Parallel()

	tree := newArchive()
	cfg := testConfig(t, tree.Root())
	a := newTestApp(t, cfg, tree)

	_, err := a.Ingest(context.Background(), nil)
	require.NoError(t, err)
	broken := filepath.Join(cfg.Output.Dir, "JA2_GPN_2PdP001_003.geojson")
	require.NoError(t, os.WriteFile(broken, []byte(`{"type":"FeatureCollection"`), 0o600))

	report, err := a.Verify(context.Background(), artifact.Validator{})
	require.NoError(t, err)
	require.Equal(t, 6, report.Checked)
	require.Equal(t, []string{"JA2_GPN_2PdP001_003.geojson"}, report.Corrupt)
}

func TestVerifyListError(t *testing.T) {
	t.Parallel()

	_, err := Verify(context.Background(), failingLister{storagemem.NewBlobStore()}, artifact.Validator{}, 2, nil)
	require.ErrorContains(t, err, "list artifacts")
}

func TestVerifyMemoryStore(t *testing.T) {
	t.Parallel()

	blobs := storagemem.NewBlobStore()
	good, err := artifact.Build(artifact.Track{ID: "a.nc", Lon: []float64{1}, Lat: []float64{2}})
	require.NoError(t, err)
	blobs.Seed("a.geojson", good)
	blobs.Seed("b.geojson", []byte("not json"))
	blobs.Seed("c.geojson", nil)

	report, err := Verify(context.Background(), blobs, artifact.Validator{}, 4, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 3, report.Checked)
	require.Equal(t, []string{"b.geojson", "c.geojson"}, report.Corrupt)
}

func TestNewRejectsUnknownOutput(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "ftp://a.example.org/")
	cfg.Output.Kind = "s3"
	a, err := New(context.Background(), cfg, nil, Options{Registerer: prometheus.NewRegistry(), Transport: newArchive()})
	require.ErrorContains(t, err, "unknown output kind")
	require.Nil(t, a)
}

func TestNewConstructionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*config.Config)
		transport Transport
		wantErr   string
	}{
		{
			name:    "unknown source kind",
			mutate:  func(c *config.Config) { c.Source.Kind = "gopher" },
			wantErr: "unknown source kind",
		},
		{
			name:      "surface type key not an integer",
			mutate:    func(c *config.Config) { c.Extract.SurfaceType = map[string]string{"ocean": "open oceans"} },
			transport: newArchive(),
			wantErr:   "surface_type",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t, "ftp://a.example.org/")
			tc.mutate(&cfg)
			opts := Options{Registerer: prometheus.NewRegistry()}
			if tc.transport != nil {
				opts.Transport = tc.transport
			}
			require.NotPanics(t, func() {
				a, err := New(context.Background(), cfg, nil, opts)
				require.ErrorContains(t, err, tc.wantErr)
				require.Nil(t, a)
			})
		})
	}
}

func TestNewTransportSelection(t *testing.T) {
	t.Parallel()

	transport, err := newTransport(config.SourceConfig{Kind: config.SourceHTTP}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &httpindex.Client{}, transport)

	_, err = newTransport(config.SourceConfig{Kind: "gopher"}, zap.NewNop())
	require.ErrorContains(t, err, "unknown source kind")
}

type failingLister struct {
	*storagemem.BlobStore
}

func (failingLister) List(context.Context) ([]string, error) {
	return nil, errors.New("bucket gone")
}
