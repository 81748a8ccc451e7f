package domain

import (
	"sort"
	"time"
)

// FieldType represents the type of a column in a user table.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeSelect   FieldType = "select"
	FieldTypeRelation FieldType = "relation"
)

// Valid reports whether the field type is one the store understands.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeSelect, FieldTypeRelation:
		return true
	default:
		return false
	}
}

// Field describes a column of a user table.
type Field struct {
	ID          int64          `json:"id,omitempty" yaml:"-"`
	Name        string         `json:"name" yaml:"name"`
	DisplayName string         `json:"display_name" yaml:"display_name"`
	Type        FieldType      `json:"field_type" yaml:"field_type"`
	Options     map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	Required    bool           `json:"required" yaml:"required"`
}

// Table is a named collection of records with a loose schema.
type Table struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Description string     `json:"description,omitempty"`
	Fields      []Field    `json:"fields"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// FieldUpdate changes a field after creation. Nil members are left as they are.
// The name and type of a field are fixed once records may reference them.
type FieldUpdate struct {
	DisplayName *string
	Required    *bool
}

// Stats counts the objects held by a store.
type Stats struct {
	Tables   int64 `json:"tables"`
	Records  int64 `json:"records"`
	Canvases int64 `json:"canvases"`
	Views    int64 `json:"views"`
}

// FieldByName returns the named field definition.
func (t Table) FieldByName(name string) (Field, bool) {
	for _, field := range t.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

func sortedKeys(record Record) []string {
	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
