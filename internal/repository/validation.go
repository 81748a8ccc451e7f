package repository

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/canvasdb/internal/domain"
	"github.com/rpattn/canvasdb/internal/expression"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateTable(table domain.Table) error {
	if !identifierPattern.MatchString(table.Name) {
		return fmt.Errorf("table name %q: %w", table.Name, domain.ErrInvalid)
	}
	seen := make(map[string]struct{}, len(table.Fields))
	for _, field := range table.Fields {
		if err := validateField(field); err != nil {
			return err
		}
		if _, dup := seen[field.Name]; dup {
			return fmt.Errorf("duplicate field %q: %w", field.Name, domain.ErrInvalid)
		}
		seen[field.Name] = struct{}{}
	}
	return nil
}

func validateField(field domain.Field) error {
	if !identifierPattern.MatchString(field.Name) {
		return fmt.Errorf("field name %q: %w", field.Name, domain.ErrInvalid)
	}
	if !field.Type.Valid() {
		return fmt.Errorf("field %q has unknown type %q: %w", field.Name, field.Type, domain.ErrInvalid)
	}
	return nil
}

func validateFieldUpdate(update domain.FieldUpdate) error {
	if update.DisplayName != nil && strings.TrimSpace(*update.DisplayName) == "" {
		return fmt.Errorf("display name must not be empty: %w", domain.ErrInvalid)
	}
	return nil
}

// validateRecord checks required fields and number-typed values. Fields not
// declared on the table are accepted as-is.
func validateRecord(table domain.Table, data map[string]any) error {
	for _, field := range table.Fields {
		value, present := data[field.Name]
		if field.Required && (!present || value == nil) {
			return fmt.Errorf("field %q is required: %w", field.Name, domain.ErrInvalid)
		}
		if !present || value == nil || field.Type != domain.FieldTypeNumber {
			continue
		}
		if _, ok := expression.ToFloat(value); !ok {
			return fmt.Errorf("field %q expects a number, got %v: %w", field.Name, value, domain.ErrInvalid)
		}
	}
	return nil
}

func copyData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	copied := make(map[string]any, len(data))
	for key, value := range data {
		copied[key] = value
	}
	return copied
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
