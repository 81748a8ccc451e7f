package domain

import (
	"time"

	"github.com/google/uuid"
)

// View is the immutable snapshot produced by one successful canvas run.
type View struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CanvasID  uuid.UUID `json:"canvas_id"`
	Data      RecordSet `json:"data"`
	Columns   []string  `json:"columns"`
	Warnings  []string  `json:"warnings,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionResult is what a successful run hands back to its caller.
type ExecutionResult struct {
	View     View
	Warnings []*WebhookDeliveryError
}

// HasWarnings reports whether the run completed with non-fatal errors.
func (r ExecutionResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}
