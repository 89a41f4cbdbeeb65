// Package convert turns one remote payload into a stored GeoJSON artifact.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/artifact"
	"github.com/JakeFAU/archive-ingest/internal/extract"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
)

// Extractor reads variables from a payload saved at a local path.
type Extractor interface {
	Extract(path string) (extract.Result, error)
}

// Config controls Converter behavior.
type Config struct {
	// Extension of artifact keys, ".geojson" by default.
	Extension string
	// TempDir holds downloaded payloads while they are read. Empty uses os.TempDir.
	TempDir string
	// Topic receives one Notification per artifact when a publisher is configured.
	Topic string
	RunID string
}

// Notification is published for every written artifact.
type Notification struct {
	RunID       string `json:"run_id"`
	Source      string `json:"source"`
	ArtifactURI string `json:"artifact_uri"`
	Hash        string `json:"hash"`
	Bytes       int64  `json:"bytes"`
	Timestamp   string `json:"timestamp"`
}

// Attributes exposes the run ID as a message attribute.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"run_id": n.RunID}
}

// Converter implements ingest.Converter.
type Converter struct {
	fetcher   ingest.Fetcher
	extractor Extractor
	store     ingest.ArtifactStore
	hasher    ingest.Hasher
	publisher ingest.Publisher
	clock     ingest.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Converter. publisher may be nil.
func New(
	fetcher ingest.Fetcher,
	extractor Extractor,
	store ingest.ArtifactStore,
	hasher ingest.Hasher,
	publisher ingest.Publisher,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Extension == "" {
		cfg.Extension = ".geojson"
	}
	return &Converter{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		hasher:    hasher,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Convert downloads loc, extracts its track and variables, and writes the artifact.
// Every failure matches ingest.ErrConversion.
func (c *Converter) Convert(ctx context.Context, loc ingest.Location) (ingest.Artifact, error) {
	start := c.clock.Now()

	local, err := c.download(ctx, loc)
	if err != nil {
		return ingest.Artifact{}, conversionError(loc, err)
	}
	defer func() {
		if rmErr := os.Remove(local); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			c.logger.Warn("remove downloaded payload", zap.String("path", local), zap.Error(rmErr))
		}
	}()

	res, err := c.extractor.Extract(local)
	if err != nil {
		return ingest.Artifact{}, conversionError(loc, fmt.Errorf("extract: %w", err))
	}

	props := make(map[string]any, len(res.Globals)+1)
	for k, v := range res.Globals {
		props[k] = v
	}
	props["variables"] = res.Variables

	data, err := artifact.Build(artifact.Track{
		ID:          loc.Base(),
		Lon:         res.Lon,
		Lat:         res.Lat,
		Properties:  props,
		DownloadURL: loc.String(),
	})
	if err != nil {
		return ingest.Artifact{}, conversionError(loc, err)
	}

	key := ingest.OutputKey(loc, c.cfg.Extension)
	uri, err := c.store.Put(ctx, key, artifact.ContentType, bytes.NewReader(data))
	if err != nil {
		return ingest.Artifact{}, conversionError(loc, fmt.Errorf("put artifact: %w", err))
	}

	hash, err := c.hasher.Hash(data)
	if err != nil {
		return ingest.Artifact{}, conversionError(loc, fmt.Errorf("hash artifact: %w", err))
	}

	out := ingest.Artifact{
		Source:   loc,
		Key:      key,
		URI:      uri,
		Hash:     hash,
		Bytes:    int64(len(data)),
		Duration: c.clock.Now().Sub(start),
	}
	c.publish(ctx, out)
	return out, nil
}

func (c *Converter) download(ctx context.Context, loc ingest.Location) (string, error) {
	body, err := c.fetcher.Fetch(ctx, loc)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			c.logger.Debug("close payload stream", zap.String("location", loc.String()), zap.Error(cerr))
		}
	}()

	tmp, err := os.CreateTemp(c.cfg.TempDir, "payload-*"+path.Ext(loc.Base()))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, body)
	metrics.ObservePayloadBytes(loc.String(), n)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// publish never fails the conversion; the artifact is already stored.
func (c *Converter) publish(ctx context.Context, a ingest.Artifact) {
	if c.cfg.Topic == "" || c.publisher == nil {
		return
	}
	msg := Notification{
		RunID:       c.cfg.RunID,
		Source:      a.Source.String(),
		ArtifactURI: a.URI,
		Hash:        a.Hash,
		Bytes:       a.Bytes,
		Timestamp:   c.clock.Now().Format(time.RFC3339),
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.Topic, msg); err != nil {
		c.logger.Warn("publish artifact notification failed",
			zap.String("location", a.Source.String()),
			zap.String("artifact_uri", a.URI),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("artifact published", zap.String("artifact_uri", a.URI), zap.String("hash", a.Hash))
}

func conversionError(loc ingest.Location, err error) error {
	return fmt.Errorf("%w: %s: %w", ingest.ErrConversion, loc, err)
}

var _ ingest.Converter = (*Converter)(nil)
