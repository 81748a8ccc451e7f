package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/canvasdb/internal/domain"
)

// Format is a supported export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat accepts "csv" and "xlsx", case-insensitively. Empty means CSV.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// ViewGetter is the part of the view store the exporter reads.
type ViewGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.View, error)
}

// File is one rendered export.
type File struct {
	Name        string
	ContentType string
	ModTime     time.Time
	Data        []byte
}

type Service struct {
	views     ViewGetter
	sheetName string
}

type Option func(*Service)

// WithSheetName sets the worksheet name used for XLSX exports.
func WithSheetName(name string) Option {
	return func(s *Service) {
		if strings.TrimSpace(name) != "" {
			s.sheetName = name
		}
	}
}

func NewService(views ViewGetter, opts ...Option) *Service {
	service := &Service{views: views, sheetName: "View"}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ExportView renders the stored view with the given id.
func (s *Service) ExportView(ctx context.Context, id uuid.UUID, format Format) (File, error) {
	view, err := s.views.GetByID(ctx, id)
	if err != nil {
		return File{}, fmt.Errorf("get view: %w", err)
	}
	return s.Render(view, format)
}

// Render encodes a view. Columns follow the view's column order.
func (s *Service) Render(view domain.View, format Format) (File, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatCSV:
		data, err = renderCSV(view)
	case FormatXLSX:
		data, err = s.renderXLSX(view)
	default:
		return File{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return File{}, err
	}
	return File{
		Name:        FileName(view, format),
		ContentType: format.ContentType(),
		ModTime:     view.CreatedAt,
		Data:        data,
	}, nil
}

// FileName derives a download name from the view name and creation time.
func FileName(view domain.View, format Format) string {
	base := sanitizeFileComponent(view.Name)
	return fmt.Sprintf("%s-%s.%s", base, view.CreatedAt.UTC().Format("20060102-150405"), format)
}

func viewColumns(view domain.View) []string {
	if len(view.Columns) > 0 {
		return view.Columns
	}
	return view.Data.Columns
}

func renderCSV(view domain.View) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	columns := viewColumns(view)
	if err := writer.Write(columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(columns))
	for _, record := range view.Data.Records {
		for i, column := range columns {
			row[i] = formatValue(record[column])
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) renderXLSX(view domain.View) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", s.sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	stream, err := f.NewStreamWriter(s.sheetName)
	if err != nil {
		return nil, fmt.Errorf("open sheet writer: %w", err)
	}

	columns := viewColumns(view)
	header := make([]any, len(columns))
	for i, column := range columns {
		header[i] = column
	}
	if err := stream.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}

	for rowIdx, record := range view.Data.Records {
		cells := make([]any, len(columns))
		for i, column := range columns {
			cells[i] = cellValue(record[column])
		}
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return nil, fmt.Errorf("cell name: %w", err)
		}
		if err := stream.SetRow(cell, cells); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", rowIdx+1, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return nil, fmt.Errorf("flush xlsx: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// cellValue keeps numbers and booleans native so spreadsheets can compute on
// them; everything else is written as text.
func cellValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case float32, float64, int, int32, int64, uint, uint32, uint64, bool:
		return v
	default:
		return formatValue(v)
	}
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	if result == "" {
		return "view"
	}
	return result
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
