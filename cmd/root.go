// Package cmd defines the CLI commands of the archive-ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/app"
	"github.com/JakeFAU/archive-ingest/internal/config"
	"github.com/JakeFAU/archive-ingest/internal/logging"
)

const closeTimeout = 15 * time.Second

type runtimeKey struct{}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    *app.App
}

// newApp is the application factory, swapped in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// newRootCmd returns the command tree and a cleanup that releases whatever
// PersistentPreRunE built. Cleanup runs whether or not the subcommand failed.
func newRootCmd() (*cobra.Command, func() error) {
	var (
		cfgFile string
		rt      *runtime
	)
	cmd := &cobra.Command{
		Use:   "archive-ingest",
		Short: "Crawls a remote altimetry archive and converts every file to GeoJSON.",
		Long: `archive-ingest walks a remote directory tree over FTP or HTTP, queues every
file it finds and converts each payload into a GeoJSON artifact with a pool of
workers. Artifacts that already exist and parse are skipped, so reruns resume
where the previous run stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("initialize application services: %w", err)
			}
			rt = &runtime{cfg: cfg, logger: logger, app: a}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, rt))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); INGEST_* variables override it")
	cmd.AddCommand(newIngestCmd(), newVerifyCmd())

	cleanup := func() error {
		if rt == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		closeErr := rt.app.Close(ctx)
		_ = rt.logger.Sync()
		if closeErr != nil {
			return fmt.Errorf("close application services: %w", closeErr)
		}
		return nil
	}
	return cmd, cleanup
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	root, cleanup := newRootCmd()
	err := errors.Join(root.ExecuteContext(context.Background()), cleanup())
	if err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
