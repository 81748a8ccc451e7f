package pipeline

import (
	"github.com/rpattn/canvasdb/internal/domain"
	"github.com/rpattn/canvasdb/internal/expression"
)

// Join performs an inner equality join of left and right on
// left[leftField] == right[rightField]. Keys are compared through their string
// form so numeric and text columns holding the same value match. Absent or
// null keys never match. Merged rows carry the left fields followed by the
// right fields; the right value wins on a name collision.
func Join(left, right domain.RecordSet, leftField, rightField string) domain.RecordSet {
	rightIndex := make(map[string][]int, len(right.Records))
	for idx, record := range right.Records {
		key, ok := joinKey(record, rightField)
		if !ok {
			continue
		}
		rightIndex[key] = append(rightIndex[key], idx)
	}

	columns := mergeColumns(left.Columns, right.Columns)
	results := make([]domain.Record, 0, len(left.Records))
	for _, leftRecord := range left.Records {
		key, ok := joinKey(leftRecord, leftField)
		if !ok {
			continue
		}
		for _, idx := range rightIndex[key] {
			results = append(results, mergeRecords(leftRecord, right.Records[idx]))
		}
	}
	return domain.RecordSet{Columns: columns, Records: results}
}

func joinKey(record domain.Record, field string) (string, bool) {
	value, ok := record[field]
	if !ok || value == nil {
		return "", false
	}
	return expression.ToString(value), true
}

func mergeRecords(left, right domain.Record) domain.Record {
	merged := make(domain.Record, len(left)+len(right))
	for key, value := range left {
		merged[key] = value
	}
	for key, value := range right {
		merged[key] = value
	}
	return merged
}

func mergeColumns(left, right []string) []string {
	columns := make([]string, 0, len(left)+len(right))
	seen := make(map[string]struct{}, len(left)+len(right))
	for _, group := range [][]string{left, right} {
		for _, column := range group {
			if _, ok := seen[column]; ok {
				continue
			}
			seen[column] = struct{}{}
			columns = append(columns, column)
		}
	}
	return columns
}
