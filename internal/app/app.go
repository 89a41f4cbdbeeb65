// Package app builds the long-lived services of the ingest binary from configuration
// and runs ingestion and verification passes with them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/archive-ingest/internal/api"
	"github.com/JakeFAU/archive-ingest/internal/artifact"
	"github.com/JakeFAU/archive-ingest/internal/clock/system"
	"github.com/JakeFAU/archive-ingest/internal/config"
	"github.com/JakeFAU/archive-ingest/internal/convert"
	"github.com/JakeFAU/archive-ingest/internal/extract"
	"github.com/JakeFAU/archive-ingest/internal/hash/sha256"
	idgen "github.com/JakeFAU/archive-ingest/internal/id/uuid"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/listing"
	"github.com/JakeFAU/archive-ingest/internal/listing/ftp"
	"github.com/JakeFAU/archive-ingest/internal/listing/httpindex"
	"github.com/JakeFAU/archive-ingest/internal/orchestrator"
	"github.com/JakeFAU/archive-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/archive-ingest/internal/progress"
	"github.com/JakeFAU/archive-ingest/internal/progress/sinks"
	queuemem "github.com/JakeFAU/archive-ingest/internal/queue/memory"
	"github.com/JakeFAU/archive-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/archive-ingest/internal/storage/gcs"
	"github.com/JakeFAU/archive-ingest/internal/storage/local"
	"github.com/JakeFAU/archive-ingest/internal/storage/postgres"
	"github.com/JakeFAU/archive-ingest/internal/store"
)

// ArtifactStore is what the app needs from an output backend.
type ArtifactStore interface {
	ingest.ArtifactStore
	ingest.ArtifactLister
}

// Transport lists remote directories and downloads payloads.
type Transport interface {
	listing.Opener
	ingest.Fetcher
}

// Options override collaborators otherwise built from configuration.
type Options struct {
	// Registerer receives the progress collectors; nil uses the default registry.
	Registerer prometheus.Registerer
	// Transport replaces the FTP/HTTP client selected by source.kind.
	Transport Transport
	// Extractor replaces the netCDF extractor.
	Extractor convert.Extractor
	// Output receives the progress line; nil uses stdout.
	Output io.Writer
}

// App holds the shared services for one process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	source    listing.Opener
	fetcher   ingest.Fetcher
	artifacts ArtifactStore
	extractor convert.Extractor
	publisher ingest.Publisher
	runs      store.RunRepository
	hub       *progress.Hub
	live      *api.LiveRun
	server    *api.Server
	ids       *idgen.Generator
	clock     *system.Clock
	output    io.Writer
	closers   []func() error
}

// New builds every service named by cfg. Services built before a failure are closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		live:   &api.LiveRun{},
		ids:    idgen.New(),
		clock:  system.New(),
		output: opts.Output,
	}
	if a.output == nil {
		a.output = os.Stdout
	}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	transport := opts.Transport
	if transport == nil {
		if transport, err = newTransport(cfg.Source, logger); err != nil {
			return nil, err
		}
	}
	policy := listing.NewFixedRetryPolicy(cfg.Source.RetryAttempts, cfg.Source.RetryDelay)
	a.source = listing.NewRetryingSource(transport, policy, logger.Named("listing"))
	a.fetcher = transport

	if a.artifacts, err = a.newArtifactStore(ctx); err != nil {
		return nil, err
	}

	a.extractor = opts.Extractor
	if a.extractor == nil {
		mapping, mapErr := cfg.Extract.SurfaceTypeMapping()
		if mapErr != nil {
			return nil, mapErr
		}
		ecfg := extract.Config{Variables: cfg.Extract.Variables}
		if mapping != nil {
			ecfg.Mappings = map[string]map[int]string{"surface_type": mapping}
		}
		a.extractor = extract.New(ecfg, nil, logger.Named("extract"))
	}

	if cfg.PubSub.TopicName != "" {
		pub, pubErr := pubsub.New(ctx, cfg.PubSub.ProjectID)
		if pubErr != nil {
			return nil, pubErr
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, err
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), promSink}
	if cfg.DB.DSN != "" {
		runStore, dbErr := postgres.NewRunStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if dbErr != nil {
			return nil, dbErr
		}
		a.runs = runStore
		a.closers = append(a.closers, func() error { runStore.Close(); return nil })
		hubSinks = append(hubSinks, sinks.NewStoreSink(runStore, logger.Named("ledger")))
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("hub")}, hubSinks...)
	a.server = api.NewServer(a.live, a.runs, logger.Named("api"))

	logger.Info("application services ready",
		zap.String("source_kind", cfg.Source.Kind),
		zap.String("output_kind", cfg.Output.Kind),
		zap.Bool("ledger", a.runs != nil),
		zap.Bool("notifications", a.publisher != nil),
	)
	return a, nil
}

func newTransport(cfg config.SourceConfig, logger *zap.Logger) (Transport, error) {
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.RPS, Burst: cfg.Burst})
	switch cfg.Kind {
	case config.SourceFTP:
		return ftp.New(ftp.Config{
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  cfg.Timeout,
		}, limiter, logger.Named("ftp")), nil
	case config.SourceHTTP:
		return httpindex.New(httpindex.Config{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
		}, limiter, logger.Named("http")), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

func (a *App) newArtifactStore(ctx context.Context) (ArtifactStore, error) {
	out := a.cfg.Output
	switch out.Kind {
	case config.OutputLocal:
		s, err := local.New(local.Config{BaseDir: out.Dir, Extension: out.Extension})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return s, nil
	case config.OutputGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		s, err := gcs.New(client, gcs.Config{Bucket: out.GCSBucket, Prefix: out.Prefix, Extension: out.Extension})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown output kind %q", out.Kind)
	}
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Artifacts returns the configured artifact store.
func (a *App) Artifacts() ArtifactStore {
	return a.artifacts
}

// Live returns the tracker of the run in flight.
func (a *App) Live() *api.LiveRun {
	return a.live
}

// Ingest performs one run. onStart, when non-nil, sees the run's queue before the
// producer starts. The status server runs alongside when metrics.addr is set.
func (a *App) Ingest(
	ctx context.Context,
	onStart func(runID uuid.UUID, queue *queuemem.Queue, state *progress.State),
) (orchestrator.RunResult, error) {
	runID, err := a.ids.NewRunID()
	if err != nil {
		return orchestrator.RunResult{}, err
	}
	conv := convert.New(
		a.fetcher,
		a.extractor,
		a.artifacts,
		sha256.New(),
		a.publisher,
		a.clock,
		convert.Config{
			Extension: a.cfg.Output.Extension,
			TempDir:   a.cfg.Output.TempDir,
			Topic:     a.cfg.PubSub.TopicName,
			RunID:     runID.String(),
		},
		a.logger.Named("convert"),
	)
	orch := orchestrator.New(orchestrator.Deps{
		Source:    a.source,
		Store:     a.artifacts,
		Validator: artifact.Validator{},
		Converter: conv,
		Clock:     a.clock,
		IDs:       a.ids,
		Renderer:  progress.NewRenderer(a.output, a.cfg.Progress.Render),
		Events:    a.hub,
		OnStart: func(id uuid.UUID, queue *queuemem.Queue, state *progress.State) {
			a.live.Track(id, queue, state)
			if onStart != nil {
				onStart(id, queue, state)
			}
		},
	}, orchestrator.Config{
		Root:         a.cfg.Source.Root,
		Workers:      a.cfg.Pool.Workers,
		Timeout:      a.cfg.Pool.Timeout,
		PollInterval: a.cfg.Pool.PollInterval,
		Extension:    a.cfg.Output.Extension,
		RunID:        runID,
	}, a.logger.Named("orchestrator"))

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	if addr := a.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return a.server.ListenAndServe(serverCtx, addr) })
	}
	var res orchestrator.RunResult
	g.Go(func() error {
		defer stopServer()
		var runErr error
		res, runErr = orch.Run(gctx)
		return runErr
	})
	err = g.Wait()
	return res, err
}

// Close flushes progress events and releases every client. Errors are joined.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
