package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// sheet is an uploaded file reduced to sanitized headers and padded rows.
type sheet struct {
	headers        []string
	rawHeaders     []string
	rows           [][]string
	headerRowIndex int
}

type decodeFunc func(payload []byte) ([][]string, error)

var decoders = map[string]decodeFunc{
	".csv":  decodeCSV,
	".xlsx": decodeXLSX,
}

func parseSheet(fileName string, payload []byte, headerRowIndex *int) (sheet, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	decode, ok := decoders[ext]
	if !ok {
		return sheet{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	cells, err := decode(payload)
	if err != nil {
		return sheet{}, err
	}
	return normalizeSheet(cells, headerRowIndex)
}

func decodeCSV(payload []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(payload, []byte("\xEF\xBB\xBF"))))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	cells, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return cells, nil
}

// decodeXLSX reads the first worksheet.
func decodeXLSX(payload []byte) ([][]string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = book.Close() }()

	names := book.GetSheetList()
	if len(names) == 0 {
		return nil, errors.New("xlsx file has no sheets")
	}
	cells, err := book.GetRows(names[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", names[0], err)
	}
	return cells, nil
}

// normalizeSheet splits cells into a header row and data rows. Blank data rows
// are dropped; short rows are padded to the header width.
func normalizeSheet(cells [][]string, headerRowIndex *int) (sheet, error) {
	at, err := headerRow(cells, headerRowIndex)
	if err != nil {
		return sheet{}, err
	}

	labels := make([]string, len(cells[at]))
	for i, label := range cells[at] {
		labels[i] = strings.TrimSpace(label)
	}
	out := sheet{
		headers:        sanitizeHeaders(labels),
		rawHeaders:     labels,
		headerRowIndex: at,
	}
	for _, row := range cells[at+1:] {
		if !isBlank(row) {
			out.rows = append(out.rows, fitRow(row, len(labels)))
		}
	}
	return out, nil
}

// headerRow returns the explicit index when given, otherwise the first
// non-blank row.
func headerRow(cells [][]string, explicit *int) (int, error) {
	if explicit != nil {
		at := *explicit
		switch {
		case at < 0 || at >= len(cells):
			return 0, fmt.Errorf("header row index %d out of range (file has %d rows)", at, len(cells))
		case isBlank(cells[at]):
			return 0, fmt.Errorf("header row %d is empty", at+1)
		}
		return at, nil
	}
	for i, row := range cells {
		if !isBlank(row) {
			return i, nil
		}
	}
	return 0, errors.New("file has no non-blank rows")
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

var separators = regexp.MustCompile(`[^A-Za-z0-9]+`)

// sanitizeHeaders turns column labels into field names the table store
// accepts: letters, digits and underscores, not starting with a digit, unique.
func sanitizeHeaders(labels []string) []string {
	names := make([]string, len(labels))
	used := make(map[string]int, len(labels))
	for i, label := range labels {
		name := strings.Trim(separators.ReplaceAllString(strings.TrimSpace(label), "_"), "_")
		switch {
		case name == "":
			name = "column_" + strconv.Itoa(i+1)
		case name[0] >= '0' && name[0] <= '9':
			name = "c_" + name
		}
		used[name]++
		if n := used[name]; n > 1 {
			name += "_" + strconv.Itoa(n)
		}
		names[i] = name
	}
	return names
}

func fitRow(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}
