package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is a single row flowing between pipeline nodes.
type Record map[string]any

// Clone returns a shallow copy of the record. Values are scalars so a shallow
// copy is enough to keep producers and consumers independent.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	cloned := make(Record, len(r))
	for key, value := range r {
		cloned[key] = value
	}
	return cloned
}

// RecordSet is the ordered dataset produced by a node.
type RecordSet struct {
	Columns []string
	Records []Record
}

// NewRecordSet builds a record set whose columns are the union of the
// records' fields in first-seen order. Field order inside a map is not stable,
// so keys of a single record are added in sorted order.
func NewRecordSet(records []Record) RecordSet {
	set := RecordSet{Records: make([]Record, 0, len(records))}
	seen := make(map[string]struct{})
	for _, record := range records {
		set.Records = append(set.Records, record)
		for _, key := range sortedKeys(record) {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			set.Columns = append(set.Columns, key)
		}
	}
	if set.Columns == nil {
		set.Columns = []string{}
	}
	return set
}

// EmptyRecordSet returns a record set with no rows and no columns.
func EmptyRecordSet() RecordSet {
	return RecordSet{Columns: []string{}, Records: []Record{}}
}

// Len reports the number of records.
func (s RecordSet) Len() int {
	return len(s.Records)
}

// Clone deep-copies the record set.
func (s RecordSet) Clone() RecordSet {
	cloned := RecordSet{
		Columns: append([]string{}, s.Columns...),
		Records: make([]Record, 0, len(s.Records)),
	}
	for _, record := range s.Records {
		cloned.Records = append(cloned.Records, record.Clone())
	}
	return cloned
}

// ConcatRecordSets appends sets in the given order. Columns keep the order in
// which they first appear across the inputs.
func ConcatRecordSets(sets ...RecordSet) RecordSet {
	total := 0
	for _, set := range sets {
		total += len(set.Records)
	}
	result := RecordSet{Columns: []string{}, Records: make([]Record, 0, total)}
	seen := make(map[string]struct{})
	addColumn := func(column string) {
		if _, ok := seen[column]; ok {
			return
		}
		seen[column] = struct{}{}
		result.Columns = append(result.Columns, column)
	}
	for _, set := range sets {
		for _, column := range set.Columns {
			addColumn(column)
		}
		for _, record := range set.Records {
			for _, key := range sortedKeys(record) {
				addColumn(key)
			}
			result.Records = append(result.Records, record.Clone())
		}
	}
	return result
}

// MarshalJSON renders the record set as an array of records.
func (s RecordSet) MarshalJSON() ([]byte, error) {
	records := s.Records
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

// UnmarshalJSON accepts an array of records.
func (s *RecordSet) UnmarshalJSON(data []byte) error {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode record set: %w", err)
	}
	*s = NewRecordSet(records)
	return nil
}

// StoredRecord is a row as persisted in the tabular store.
type StoredRecord struct {
	ID        int64          `json:"id"`
	TableID   int64          `json:"table_id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

// PipelineRecord exposes a stored row to the pipeline: the record id becomes
// the "id" field unless the data carries its own.
func (r StoredRecord) PipelineRecord() Record {
	record := make(Record, len(r.Data)+1)
	record["id"] = r.ID
	for key, value := range r.Data {
		record[key] = value
	}
	return record
}

// RecordSetFromStored converts stored rows into a pipeline record set.
func RecordSetFromStored(rows []StoredRecord) RecordSet {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.PipelineRecord())
	}
	return NewRecordSet(records)
}
