// Package config loads and validates ingest configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source kinds.
const (
	SourceFTP  = "ftp"
	SourceHTTP = "http"
)

// Output kinds.
const (
	OutputLocal = "local"
	OutputGCS   = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Output   OutputConfig   `mapstructure:"output"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Progress ProgressConfig `mapstructure:"progress"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig describes the remote archive and how to reach it.
type SourceConfig struct {
	Kind          string        `mapstructure:"kind"`
	Root          string        `mapstructure:"root"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RPS           float64       `mapstructure:"rps"`
	Burst         int           `mapstructure:"burst"`
}

// OutputConfig selects where artifacts are written.
type OutputConfig struct {
	Kind      string `mapstructure:"kind"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	Extension string `mapstructure:"extension"`
	TempDir   string `mapstructure:"temp_dir"`
}

// PoolConfig governs the worker pool.
type PoolConfig struct {
	Workers      int           `mapstructure:"workers"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ProgressConfig toggles the terminal progress line.
type ProgressConfig struct {
	Render bool `mapstructure:"render"`
}

// ExtractConfig selects payload variables. SurfaceType maps codes ("0".."3") to
// descriptions.
type ExtractConfig struct {
	Variables   []string          `mapstructure:"variables"`
	SurfaceType map[string]string `mapstructure:"surface_type"`
}

// MetricsConfig controls the status server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DBConfig controls access to the run ledger database. An empty DSN disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Table    string `mapstructure:"table"`
}

// PubSubConfig holds metadata for artifact notifications. An empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.kind", SourceFTP)
	v.SetDefault("source.root", "")
	v.SetDefault("source.username", "anonymous")
	v.SetDefault("source.password", "anonymous")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.user_agent", "archive-ingest/0.1")
	v.SetDefault("source.retry_attempts", 20)
	v.SetDefault("source.retry_delay", "10s")
	v.SetDefault("source.rps", 0)
	v.SetDefault("source.burst", 1)
	v.SetDefault("output.kind", OutputLocal)
	v.SetDefault("output.dir", "data/geojson")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.prefix", "")
	v.SetDefault("output.extension", ".geojson")
	v.SetDefault("output.temp_dir", "")
	v.SetDefault("pool.workers", 8)
	v.SetDefault("pool.timeout", "1m")
	v.SetDefault("pool.poll_interval", "10ms")
	v.SetDefault("progress.render", true)
	v.SetDefault("extract.variables", []string{})
	v.SetDefault("metrics.addr", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.table", "ingest_runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Source.Kind {
	case SourceFTP, SourceHTTP:
	default:
		return fmt.Errorf("source.kind must be %q or %q, got %q", SourceFTP, SourceHTTP, c.Source.Kind)
	}
	if c.Source.Root == "" {
		return fmt.Errorf("source.root must be set")
	}
	if u, err := url.Parse(c.Source.Root); err != nil || u.Host == "" {
		return fmt.Errorf("source.root must be an absolute URL, got %q", c.Source.Root)
	}
	if c.Source.RetryAttempts <= 0 {
		return fmt.Errorf("source.retry_attempts must be > 0")
	}
	if c.Source.RetryDelay < 0 {
		return fmt.Errorf("source.retry_delay must be >= 0")
	}
	switch c.Output.Kind {
	case OutputLocal:
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir must be set for local output")
		}
	case OutputGCS:
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set for gcs output")
		}
	default:
		return fmt.Errorf("output.kind must be %q or %q, got %q", OutputLocal, OutputGCS, c.Output.Kind)
	}
	if c.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be > 0")
	}
	if c.Pool.Timeout <= 0 {
		return fmt.Errorf("pool.timeout must be > 0")
	}
	if c.Pool.PollInterval <= 0 {
		return fmt.Errorf("pool.poll_interval must be > 0")
	}
	if _, err := c.Extract.SurfaceTypeMapping(); err != nil {
		return err
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// SurfaceTypeMapping converts the configured codes. nil means use the built-in mapping.
func (e ExtractConfig) SurfaceTypeMapping() (map[int]string, error) {
	if len(e.SurfaceType) == 0 {
		return nil, nil
	}
	out := make(map[int]string, len(e.SurfaceType))
	for k, v := range e.SurfaceType {
		code, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("extract.surface_type key %q is not an integer", k)
		}
		out[code] = v
	}
	return out, nil
}
