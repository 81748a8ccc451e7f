package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rpattn/canvasdb/internal/ingestion"
	"github.com/rpattn/canvasdb/internal/logging"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		table     string
		headerRow int
	)

	cmd := &cobra.Command{
		Use:   "import <file.csv|file.xlsx>",
		Short: "Import a CSV or XLSX file into a postgres table",
		Long: `Import rows from a CSV or XLSX file. A missing table is created with
field types inferred from the data. Rows failing validation are skipped and
listed in the printed summary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer file.Close()

			store, closeStore, err := a.openStore(cmd.Context(), "postgres")
			if err != nil {
				return err
			}
			defer closeStore()

			req := ingestion.Request{
				TableName: table,
				FileName:  filepath.Base(path),
				Data:      file,
			}
			if cmd.Flags().Changed("header-row") {
				req.HeaderRowIndex = &headerRow
			}

			service := ingestion.NewService(store.Tables, logging.Component(a.logger, "ingestion"))
			summary, err := service.Import(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "Target table name")
	cmd.Flags().IntVar(&headerRow, "header-row", 0, "Zero-based header row (defaults to the first non-blank row)")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}
