package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/canvasdb/internal/db"
	"github.com/rpattn/canvasdb/internal/logging"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	for _, direction := range []db.Direction{db.Up, db.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(direction),
			Short: "Migrate the database " + string(direction),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return db.RunMigrations(a.cfg.Database, direction, logging.Component(a.logger, "migrate"))
			},
		})
	}
	return cmd
}
