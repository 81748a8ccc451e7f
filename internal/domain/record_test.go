package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNewRecordSet_ColumnsFirstSeen(t *testing.T) {
	set := NewRecordSet([]Record{
		{"sku": "A", "id": 1},
		{"qty": 3, "id": 2},
	})
	if !reflect.DeepEqual(set.Columns, []string{"id", "sku", "qty"}) {
		t.Fatalf("unexpected columns %v", set.Columns)
	}
}

func TestConcatRecordSets(t *testing.T) {
	a := NewRecordSet([]Record{{"x": 1}})
	b := NewRecordSet([]Record{{"y": 2}, {"x": 3}})

	joined := ConcatRecordSets(a, b)
	if joined.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", joined.Len())
	}
	if !reflect.DeepEqual(joined.Columns, []string{"x", "y"}) {
		t.Fatalf("unexpected columns %v", joined.Columns)
	}
	joined.Records[0]["x"] = 99
	if a.Records[0]["x"] != 1 {
		t.Fatalf("concat aliases its inputs")
	}
}

func TestRecordSetJSON(t *testing.T) {
	encoded, err := json.Marshal(RecordSet{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(encoded) != "[]" {
		t.Fatalf("expected empty array, got %s", encoded)
	}

	var set RecordSet
	if err := json.Unmarshal([]byte(`[{"b": 1, "a": "x"}]`), &set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if set.Len() != 1 || !reflect.DeepEqual(set.Columns, []string{"a", "b"}) {
		t.Fatalf("unexpected set %+v", set)
	}
}

func TestStoredRecord_PipelineRecord(t *testing.T) {
	stored := StoredRecord{ID: 7, Data: map[string]any{"sku": "A"}}
	record := stored.PipelineRecord()
	if record["id"] != int64(7) || record["sku"] != "A" {
		t.Fatalf("unexpected record %v", record)
	}

	override := StoredRecord{ID: 7, Data: map[string]any{"id": "custom"}}
	if got := override.PipelineRecord()["id"]; got != "custom" {
		t.Fatalf("data id should win, got %v", got)
	}
}

func TestErrorCode(t *testing.T) {
	err := error(&UnknownTableError{NodeID: "t", Table: "ghost"})
	code, ok := ErrorCode(err)
	if !ok || code != CodeUnknownTable {
		t.Fatalf("unexpected code %q", code)
	}
	if _, ok := ErrorCode(ErrNotFound); ok {
		t.Fatalf("plain errors carry no code")
	}
}
