package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/canvasdb/internal/domain"
)

// Materialize turns the terminal outputs of a run into a new View. Multiple
// terminals are concatenated in node id order.
func Materialize(canvas domain.Canvas, run RunResult, viewName string, now time.Time) domain.View {
	sets := make([]domain.RecordSet, 0, len(run.Terminals))
	for _, id := range run.Terminals {
		sets = append(sets, run.Outputs[id])
	}
	data := domain.ConcatRecordSets(sets...)

	var warnings []string
	for _, warning := range run.Warnings {
		warnings = append(warnings, warning.Error())
	}

	return domain.View{
		ID:        uuid.New(),
		Name:      ViewName(canvas, viewName, now),
		CanvasID:  canvas.ID,
		Data:      data,
		Columns:   append([]string{}, data.Columns...),
		Warnings:  warnings,
		CreatedAt: now.UTC(),
	}
}

// ViewName returns the explicit name when given, otherwise one derived from the
// canvas name and the run time.
func ViewName(canvas domain.Canvas, explicit string, now time.Time) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	base := strings.TrimSpace(canvas.Name)
	if base == "" {
		base = fmt.Sprintf("canvas-%s", canvas.ID)
	}
	return fmt.Sprintf("%s @ %s", base, now.UTC().Format(time.RFC3339))
}
