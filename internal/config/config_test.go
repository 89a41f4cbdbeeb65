package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
source:
  kind: http
  root: https://data.example.org/jason-2/gdr_d/
  timeout: 5s
  retry_attempts: 3
  retry_delay: 250ms
  rps: 4
output:
  kind: gcs
  gcs_bucket: altimetry
  prefix: geojson
pool:
  workers: 16
  timeout: 2h
extract:
  variables: [lon, lat, sig0_ku]
  surface_type:
    "0": ocean
    "3": land
metrics:
  addr: ":9090"
pubsub:
  project_id: proj
  topic_name: artifacts
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, SourceHTTP, cfg.Source.Kind)
	require.Equal(t, 5*time.Second, cfg.Source.Timeout)
	require.Equal(t, 3, cfg.Source.RetryAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Source.RetryDelay)
	require.InDelta(t, 4.0, cfg.Source.RPS, 1e-9)
	require.Equal(t, OutputGCS, cfg.Output.Kind)
	require.Equal(t, "altimetry", cfg.Output.GCSBucket)
	require.Equal(t, ".geojson", cfg.Output.Extension)
	require.Equal(t, 16, cfg.Pool.Workers)
	require.Equal(t, 2*time.Hour, cfg.Pool.Timeout)
	require.Equal(t, 10*time.Millisecond, cfg.Pool.PollInterval)
	require.Equal(t, []string{"lon", "lat", "sig0_ku"}, cfg.Extract.Variables)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
	require.False(t, cfg.Logging.Development)

	mapping, err := cfg.Extract.SurfaceTypeMapping()
	require.NoError(t, err)
	require.Equal(t, map[int]string{0: "ocean", 3: "land"}, mapping)
}

func TestLoadDefaultsFromEnvironment(t *testing.T) {
	t.Setenv("INGEST_SOURCE_ROOT", "ftp://avisoftp.example.org/pub/")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, SourceFTP, cfg.Source.Kind)
	require.Equal(t, "ftp://avisoftp.example.org/pub/", cfg.Source.Root)
	require.Equal(t, "anonymous", cfg.Source.Username)
	require.Equal(t, 20, cfg.Source.RetryAttempts)
	require.Equal(t, 10*time.Second, cfg.Source.RetryDelay)
	require.Equal(t, OutputLocal, cfg.Output.Kind)
	require.Equal(t, 8, cfg.Pool.Workers)
	require.Equal(t, time.Minute, cfg.Pool.Timeout)
	require.True(t, cfg.Progress.Render)
	require.Equal(t, "ingest_runs", cfg.DB.Table)

	mapping, err := cfg.Extract.SurfaceTypeMapping()
	require.NoError(t, err)
	require.Nil(t, mapping)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Source: SourceConfig{Kind: SourceFTP, Root: "ftp://a.example.org/", RetryAttempts: 1},
		Output: OutputConfig{Kind: OutputLocal, Dir: "out"},
		Pool:   PoolConfig{Workers: 1, Timeout: time.Second, PollInterval: time.Millisecond},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown source", func(c *Config) { c.Source.Kind = "sftp" }, "source.kind"},
		{"missing root", func(c *Config) { c.Source.Root = "" }, "source.root"},
		{"relative root", func(c *Config) { c.Source.Root = "pub/data" }, "absolute URL"},
		{"no attempts", func(c *Config) { c.Source.RetryAttempts = 0 }, "source.retry_attempts"},
		{"negative delay", func(c *Config) { c.Source.RetryDelay = -time.Second }, "source.retry_delay"},
		{"local without dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"gcs without bucket", func(c *Config) { c.Output.Kind = OutputGCS }, "output.gcs_bucket"},
		{"unknown output", func(c *Config) { c.Output.Kind = "s3" }, "output.kind"},
		{"no workers", func(c *Config) { c.Pool.Workers = 0 }, "pool.workers"},
		{"no timeout", func(c *Config) { c.Pool.Timeout = 0 }, "pool.timeout"},
		{"no poll interval", func(c *Config) { c.Pool.PollInterval = 0 }, "pool.poll_interval"},
		{"bad surface code", func(c *Config) { c.Extract.SurfaceType = map[string]string{"x": "y"} }, "extract.surface_type"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "artifacts" }, "pubsub.project_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			require.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
