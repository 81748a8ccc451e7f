package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by stores when a canvas, table or view does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalid is wrapped when a table, record or canvas fails validation.
var ErrInvalid = errors.New("invalid")

// ErrConflict is wrapped when a name is already taken.
var ErrConflict = errors.New("already exists")

// Machine-readable codes for pipeline errors.
const (
	CodeCyclicGraph       = "CYCLIC_GRAPH"
	CodeInvalidGraph      = "INVALID_GRAPH"
	CodeMissingInput      = "MISSING_INPUT"
	CodeInvalidExpression = "INVALID_EXPRESSION"
	CodeUnknownTable      = "UNKNOWN_TABLE"
	CodeWebhookDelivery   = "WEBHOOK_DELIVERY"
)

// CodedError is implemented by every pipeline error.
type CodedError interface {
	error
	Code() string
}

// CyclicGraphError reports a canvas whose edges contain a cycle.
type CyclicGraphError struct {
	NodeID string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("canvas graph contains a cycle through node %q", e.NodeID)
}

func (e *CyclicGraphError) Code() string { return CodeCyclicGraph }

// InvalidGraphError reports structural problems: duplicate ids, dangling
// edges, unknown node kinds or missing node configuration.
type InvalidGraphError struct {
	NodeID string
	Reason string
}

func (e *InvalidGraphError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("invalid canvas graph: %s", e.Reason)
	}
	return fmt.Sprintf("invalid canvas graph at node %q: %s", e.NodeID, e.Reason)
}

func (e *InvalidGraphError) Code() string { return CodeInvalidGraph }

// MissingInputError reports a non-source node without upstream data.
type MissingInputError struct {
	NodeID string
	Kind   NodeKind
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("%s node %q has no input", e.Kind, e.NodeID)
}

func (e *MissingInputError) Code() string { return CodeMissingInput }

// InvalidExpressionError reports a filter condition that cannot be parsed or
// evaluated.
type InvalidExpressionError struct {
	NodeID    string
	Condition string
	Reason    string
}

func (e *InvalidExpressionError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("invalid expression %q: %s", e.Condition, e.Reason)
	}
	return fmt.Sprintf("invalid expression %q in node %q: %s", e.Condition, e.NodeID, e.Reason)
}

func (e *InvalidExpressionError) Code() string { return CodeInvalidExpression }

// UnknownTableError reports a Table or Join node naming a missing table.
type UnknownTableError struct {
	NodeID string
	Table  string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("node %q references unknown table %q", e.NodeID, e.Table)
}

func (e *UnknownTableError) Code() string { return CodeUnknownTable }

// WebhookDeliveryError is a non-fatal failure to deliver a webhook.
type WebhookDeliveryError struct {
	NodeID     string
	URL        string
	StatusCode int
	Cause      error
}

func (e *WebhookDeliveryError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("webhook node %q: deliver to %s: %v", e.NodeID, e.URL, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("webhook node %q: %s responded with status %d", e.NodeID, e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("webhook node %q: delivery to %s failed", e.NodeID, e.URL)
	}
}

func (e *WebhookDeliveryError) Unwrap() error { return e.Cause }

func (e *WebhookDeliveryError) Code() string { return CodeWebhookDelivery }

// ErrorCode extracts the pipeline error code from err, if any.
func ErrorCode(err error) (string, bool) {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.Code(), true
	}
	return "", false
}
