/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the facility reservation engine. Loads
  configuration, wires dependencies and runs the HTTP server, the schema
  migration or a one-off completion sweep.

COMMANDS:
  serve    Run the HTTP API and the completion scheduler (default)
  migrate  Apply database migrations and exit
  sweep    Run one completion sweep and exit

FLAGS:
  --config   Path to a YAML config file (default: ./config/config.yaml or
             ./config.yaml when present)

ENVIRONMENT:
  Every config key can be set as FACILITY_<SECTION>_<KEY>, e.g.
  FACILITY_STORE_DRIVER=postgres, FACILITY_POLICY_MAX_ACTIVE_PER_USER=3.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the completion scheduler
  2. Stop accepting new connections and drain (server.shutdown_timeout)
  3. Wait for in-flight notifications
  4. Close the store and Redis client

EXAMPLES:
  # File database, default port
  ./server serve

  # In-memory store for a demo
  FACILITY_STORE_DRIVER=memory ./server serve

  # Apply PostgreSQL migrations
  FACILITY_STORE_DRIVER=postgres FACILITY_STORE_DSN=postgres://... ./server migrate

SEE ALSO:
  - app.go: Dependency wiring
  - api/server.go: Router configuration
  - config/config.go: Configuration keys and defaults
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/facility-engine/config"
	"github.com/warp/facility-engine/logging"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "facility-engine",
		Short:         "Facility reservation conflict and lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the completion scheduler",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Run one completion sweep and exit",
			RunE:  runSweep,
		},
	)
	return root
}

// setup loads configuration and builds the logger every command needs.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	app.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.String("lock", cfg.Lock.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		app.scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	backend, closeBackend, err := openBackend(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer closeBackend()

	m, ok := backend.(migrator)
	if !ok {
		logger.Info("store has no schema, nothing to migrate", zap.String("store", cfg.Store.Driver))
		return nil
	}
	if err := m.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("migrations applied", zap.String("store", cfg.Store.Driver))
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.scheduler.RunNow(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	logger.Info("sweep complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("completed", res.Completed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	if res.Failed > 0 {
		return fmt.Errorf("%d reservations could not be completed", res.Failed)
	}
	return nil
}
