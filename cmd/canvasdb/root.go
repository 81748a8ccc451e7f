package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rpattn/canvasdb/internal/config"
	"github.com/rpattn/canvasdb/internal/db"
	"github.com/rpattn/canvasdb/internal/logging"
	"github.com/rpattn/canvasdb/internal/pipeline"
	"github.com/rpattn/canvasdb/internal/repository"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	opts     config.Options
	logLevel string

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "canvasdb",
		Short: "Canvas pipeline execution engine",
		Long: `canvasdb stores user tables and canvases, executes canvas graphs
(table sources, filters, joins and webhooks) and keeps every run as an
immutable view.

Configuration comes from config.yaml, a .env file and CANVASDB_* variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.opts.ConfigFile, "config", "c", "", "Path to a configuration file (YAML)")
	flags.StringVar(&a.opts.ConfigDir, "config-dir", "", "Directory searched for config.yaml")
	flags.StringVar(&a.opts.EnvFile, "env-file", "", "Env file loaded before reading CANVASDB_* variables")
	flags.StringVarP(&a.logLevel, "log-level", "l", "", "Override the configured log level")

	rootCmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSeedCmd(a),
		newRunCmd(a),
		newImportCmd(a),
	)
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.opts)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.NewWithWriter(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openStore returns the configured store and a function releasing it.
func (a *app) openStore(ctx context.Context, driver string) (repository.Store, func(), error) {
	switch driver {
	case "memory":
		return repository.NewMemoryStore(), func() {}, nil
	case "postgres":
		conn, err := db.NewConnection(ctx, a.cfg.Database, logging.Component(a.logger, "db"))
		if err != nil {
			return repository.Store{}, nil, fmt.Errorf("connect to database: %w", err)
		}
		return repository.NewPostgresStore(conn), conn.Close, nil
	default:
		return repository.Store{}, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func (a *app) newExecutor(store repository.Store, metrics *pipeline.Metrics) *pipeline.Executor {
	sender := pipeline.NewWebhookSender(nil,
		pipeline.WithWebhookTimeout(a.cfg.Webhook.Timeout),
		pipeline.WithEnvelope(a.cfg.Webhook.Envelope),
	)
	return pipeline.NewExecutor(store.Tables, store.Canvases, store.Views,
		pipeline.WithWebhookSender(sender),
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(metrics),
	)
}
