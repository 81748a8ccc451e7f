// Package ingestion imports CSV and XLSX files into user tables.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rpattn/canvasdb/internal/domain"
)

// ErrUnsupportedFormat is returned when an uploaded file is neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// maxReportedErrors caps the row errors kept in a Summary.
const maxReportedErrors = 50

// TableStore is the part of the table repository the importer needs.
type TableStore interface {
	Create(ctx context.Context, table domain.Table) (domain.Table, error)
	GetTable(ctx context.Context, name string) (domain.Table, error)
	InsertRecord(ctx context.Context, tableName string, data map[string]any) (domain.StoredRecord, error)
}

// Service imports tabular files into the table store.
type Service struct {
	tables TableStore
	logger zerolog.Logger
}

func NewService(tables TableStore, logger zerolog.Logger) *Service {
	return &Service{tables: tables, logger: logger}
}

// Request describes one upload.
type Request struct {
	TableName   string
	DisplayName string
	Description string
	FileName    string
	// HeaderRowIndex selects the zero-based header row. Nil means the first
	// non-blank row.
	HeaderRowIndex *int
	Data           io.Reader
}

// RowError reports a row that was not imported. Row is the 1-based line in
// the file.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary describes the outcome of an import.
type Summary struct {
	Table        string         `json:"table"`
	TableCreated bool           `json:"table_created"`
	Fields       []domain.Field `json:"fields"`
	TotalRows    int            `json:"total_rows"`
	ValidRows    int            `json:"valid_rows"`
	InvalidRows  int            `json:"invalid_rows"`
	Errors       []RowError     `json:"errors"`
}

// Import reads the file and inserts one record per data row. A missing table
// is created with field types inferred from the data; an existing table keeps
// its schema and rows failing its validation are skipped and reported.
func (s *Service) Import(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{Table: req.TableName, Fields: []domain.Field{}, Errors: []RowError{}}

	if strings.TrimSpace(req.TableName) == "" {
		return summary, fmt.Errorf("table name is required: %w", domain.ErrInvalid)
	}
	if req.Data == nil {
		return summary, fmt.Errorf("no file data: %w", domain.ErrInvalid)
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, fmt.Errorf("file is empty: %w", domain.ErrInvalid)
	}

	parsed, err := parseSheet(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", domain.ErrInvalid, err)
	}

	table, err := s.tables.GetTable(ctx, req.TableName)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		table, err = s.tables.Create(ctx, domain.Table{
			Name:        req.TableName,
			DisplayName: req.DisplayName,
			Description: req.Description,
			Fields:      inferFields(parsed),
		})
		if err != nil {
			return summary, fmt.Errorf("create table: %w", err)
		}
		summary.TableCreated = true
	default:
		return summary, fmt.Errorf("get table: %w", err)
	}
	summary.Fields = table.Fields
	summary.TotalRows = len(parsed.rows)

	for idx, row := range parsed.rows {
		rowNumber := parsed.headerRowIndex + idx + 2
		data, err := coerceRow(table, parsed.headers, row)
		if err == nil {
			_, err = s.tables.InsertRecord(ctx, table.Name, data)
		}
		if err != nil {
			if !errors.Is(err, domain.ErrInvalid) {
				return summary, fmt.Errorf("insert row %d: %w", rowNumber, err)
			}
			summary.InvalidRows++
			if len(summary.Errors) < maxReportedErrors {
				summary.Errors = append(summary.Errors, RowError{Row: rowNumber, Message: err.Error()})
			}
			continue
		}
		summary.ValidRows++
	}

	s.logger.Info().
		Str("table", table.Name).
		Str("file", req.FileName).
		Bool("table_created", summary.TableCreated).
		Int("valid_rows", summary.ValidRows).
		Int("invalid_rows", summary.InvalidRows).
		Msg("file imported")
	return summary, nil
}

// inferFields types a column as number when every non-blank cell parses as a
// number, text otherwise. A column is required when no cell is blank.
func inferFields(parsed sheet) []domain.Field {
	fields := make([]domain.Field, 0, len(parsed.headers))
	for col, name := range parsed.headers {
		numeric, present, seen := true, true, false
		for _, row := range parsed.rows {
			value := strings.TrimSpace(row[col])
			if value == "" {
				present = false
				continue
			}
			seen = true
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				numeric = false
			}
		}
		fieldType := domain.FieldTypeText
		if numeric && seen {
			fieldType = domain.FieldTypeNumber
		}
		display := name
		if col < len(parsed.rawHeaders) && parsed.rawHeaders[col] != "" {
			display = parsed.rawHeaders[col]
		}
		fields = append(fields, domain.Field{
			Name:        name,
			DisplayName: display,
			Type:        fieldType,
			Required:    present && seen,
		})
	}
	return fields
}

// coerceRow converts cells of number fields to float64. Blank cells are left
// out so required-field validation catches them.
func coerceRow(table domain.Table, headers []string, row []string) (map[string]any, error) {
	data := make(map[string]any, len(headers))
	for col, name := range headers {
		raw := strings.TrimSpace(row[col])
		if raw == "" {
			continue
		}
		field, ok := table.FieldByName(name)
		if ok && field.Type == domain.FieldTypeNumber {
			number, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("field %q expects a number, got %q: %w", name, raw, domain.ErrInvalid)
			}
			data[name] = number
			continue
		}
		data[name] = raw
	}
	return data, nil
}
