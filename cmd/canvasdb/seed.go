package main

import (
	"github.com/spf13/cobra"
)

func newSeedCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a fixture file into the postgres store",
		Long: `Load tables, records and canvases from a YAML fixture file. Without
--file the bundled demo fixture is used. Tables and canvases that already
exist by name are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context(), "postgres")
			if err != nil {
				return err
			}
			defer closeStore()
			return a.seed(cmd.Context(), store, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Fixture file (defaults to the demo fixture)")
	return cmd
}
