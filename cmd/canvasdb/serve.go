package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rpattn/canvasdb/internal/api"
	"github.com/rpattn/canvasdb/internal/db"
	"github.com/rpattn/canvasdb/internal/fixtures"
	"github.com/rpattn/canvasdb/internal/logging"
	"github.com/rpattn/canvasdb/internal/pipeline"
	"github.com/rpattn/canvasdb/internal/repository"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		driver    string
		fixture   string
		migrate   bool
		seedStore bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API",
		Long: `Serve the REST API for tables, canvases and views.

With the memory store the demo fixture (or --fixtures) is loaded at start-up,
so the server is usable without a database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("driver") {
				a.cfg.Store.Driver = driver
			}
			if cmd.Flags().Changed("fixtures") {
				a.cfg.Store.Fixtures = fixture
			}
			return a.serve(cmd.Context(), migrate, seedStore)
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "", "Store driver: postgres or memory")
	cmd.Flags().StringVar(&fixture, "fixtures", "", "Fixture file seeded at start-up")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply database migrations before serving (postgres only)")
	cmd.Flags().BoolVar(&seedStore, "seed", false, "Seed the fixtures into a postgres store at start-up")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate, seedStore bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := logging.Component(a.logger, "server")
	driver := a.cfg.Store.Driver

	if driver == "postgres" && migrate {
		if err := db.RunMigrations(a.cfg.Database, db.Up, logging.Component(a.logger, "migrate")); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	store, closeStore, err := a.openStore(ctx, driver)
	if err != nil {
		return err
	}
	defer closeStore()

	if driver == "memory" || seedStore || a.cfg.Store.Fixtures != "" {
		if err := a.seed(ctx, store, a.cfg.Store.Fixtures); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	executor := a.newExecutor(store, pipeline.NewMetrics(registry))

	apiServer := api.NewServer(store, executor,
		api.WithLogger(a.logger),
		api.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      otelhttp.NewHandler(corsHandler.Handler(apiServer.Handler()), "canvasdb"),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("store", driver).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	case <-ctx.Done():
		logger.Info().Msg("context cancelled, shutting down server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info().Msg("server exited")
	return nil
}

func (a *app) seed(ctx context.Context, store repository.Store, path string) error {
	fixture, err := fixtures.LoadFile(path)
	if err != nil {
		return err
	}
	result, err := fixtures.Seed(ctx, store, fixture, logging.Component(a.logger, "fixtures"))
	if err != nil {
		return fmt.Errorf("seed fixtures: %w", err)
	}
	a.logger.Info().
		Int("tables", result.Tables).
		Int("records", result.Records).
		Int("canvases", len(result.Canvases)).
		Int("skipped", len(result.Skipped)).
		Msg("fixtures seeded")
	return nil
}
