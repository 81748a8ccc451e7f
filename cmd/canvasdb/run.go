package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/canvasdb/internal/domain"
	"github.com/rpattn/canvasdb/internal/repository"
)

type runOutput struct {
	View     *domain.View                `json:"view,omitempty"`
	Order    []string                    `json:"order,omitempty"`
	Outputs  map[string]domain.RecordSet `json:"outputs,omitempty"`
	Warnings []string                    `json:"warnings"`
}

func newRunCmd(a *app) *cobra.Command {
	var (
		fixturePath string
		canvasRef   string
		viewName    string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a canvas from a fixture file and print the view",
		Long: `Load a fixture into an in-memory store, execute one of its canvases and
print the resulting view as JSON. Webhook nodes are delivered for real;
failed deliveries are listed as warnings.

Example:
  canvasdb run --canvas "Demo Canvas"
  canvasdb run --fixtures shop.yaml --canvas "Stock check" --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			store := repository.NewMemoryStore()
			if err := a.seed(ctx, store, fixturePath); err != nil {
				return err
			}
			canvas, err := resolveCanvas(ctx, store.Canvases, canvasRef)
			if err != nil {
				return err
			}

			executor := a.newExecutor(store, nil)
			var out runOutput
			if dryRun {
				run, err := executor.Run(ctx, canvas)
				if err != nil {
					return err
				}
				out = runOutput{Order: run.Order, Outputs: run.Outputs, Warnings: warningMessages(run.Warnings)}
			} else {
				result, err := executor.Execute(ctx, canvas.ID, viewName)
				if err != nil {
					return err
				}
				out = runOutput{View: &result.View, Warnings: warningMessages(result.Warnings)}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&fixturePath, "fixtures", "f", "", "Fixture file (defaults to the demo fixture)")
	cmd.Flags().StringVar(&canvasRef, "canvas", "", "Canvas name or id")
	cmd.Flags().StringVar(&viewName, "view-name", "", "Name of the materialized view")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print every node's output instead of materializing a view")
	_ = cmd.MarkFlagRequired("canvas")
	return cmd
}

type canvasFinder interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Canvas, error)
	GetByName(ctx context.Context, name string) (domain.Canvas, error)
}

// resolveCanvas accepts either a canvas id or a canvas name.
func resolveCanvas(ctx context.Context, canvases canvasFinder, ref string) (domain.Canvas, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return canvases.GetByID(ctx, id)
	}
	canvas, err := canvases.GetByName(ctx, ref)
	if err != nil {
		return domain.Canvas{}, fmt.Errorf("find canvas %q: %w", ref, err)
	}
	return canvas, nil
}

func warningMessages(warnings []*domain.WebhookDeliveryError) []string {
	messages := make([]string, 0, len(warnings))
	for _, w := range warnings {
		messages = append(messages, w.Error())
	}
	return messages
}
