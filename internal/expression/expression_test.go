package expression

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rpattn/canvasdb/internal/domain"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input   string
		field   string
		op      Operator
		numeric bool
	}{
		{"price > 0", "price", OpGreater, true},
		{"price>0", "price", OpGreater, true},
		{"  stock >= 10.5 ", "stock", OpGreaterEqual, true},
		{"delta <= -3", "delta", OpLessEqual, true},
		{"ratio < 1e3", "ratio", OpLess, true},
		{"status == 'active'", "status", OpEqual, false},
		{`status != "archived"`, "status", OpNotEqual, false},
		{"meta.kind == 'x'", "meta.kind", OpEqual, false},
		{"_private == 1", "_private", OpEqual, true},
		{"(price > 0)", "price", OpGreater, true},
		{"qty == 10u", "qty", OpEqual, true},
		{"a.b.c != 'x'", "a.b.c", OpNotEqual, false},
	}
	for _, tt := range tests {
		cond, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.input, err)
		}
		if cond.Field() != tt.field {
			t.Fatalf("parse %q: expected field %q, got %q", tt.input, tt.field, cond.Field())
		}
		if cond.Operator() != tt.op {
			t.Fatalf("parse %q: expected op %s, got %s", tt.input, tt.op, cond.Operator())
		}
		if cond.numeric != tt.numeric {
			t.Fatalf("parse %q: expected numeric=%v", tt.input, tt.numeric)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"price",
		"price >",
		"> 3",
		"price = 3",
		"price > abc",
		"price > 3 and stock > 1",
		"status > 'a'",
		"status <= 'a'",
		"status == 'unterminated",
		"1price > 3",
		"price > 1..2",
		"price => 1",
		"price > 0 && stock > 1",
		"size(name) > 3",
		"name.startsWith('a')",
		"price == true",
		"price == null",
		"price > stock",
		"0 < price",
		"!(price > 0)",
		"has(meta.kind) == true",
	}
	for _, input := range inputs {
		_, err := Parse(input)
		if err == nil {
			t.Fatalf("expected error for %q", input)
		}
		var exprErr *domain.InvalidExpressionError
		if !errors.As(err, &exprErr) {
			t.Fatalf("expected InvalidExpressionError for %q, got %T", input, err)
		}
		if exprErr.Condition != input {
			t.Fatalf("expected condition %q in error, got %q", input, exprErr.Condition)
		}
	}
}

func TestEvaluate_Numeric(t *testing.T) {
	record := domain.Record{
		"price":   float64(10),
		"count":   int64(3),
		"text":    "7.5",
		"name":    "Widget",
		"nothing": nil,
		"num":     json.Number("42"),
	}
	tests := []struct {
		condition string
		want      bool
	}{
		{"price > 0", true},
		{"price > 10", false},
		{"price >= 10", true},
		{"price == 10", true},
		{"price != 10", false},
		{"count < 4", true},
		{"count <= 2", false},
		{"text > 7", true},
		{"num == 42", true},
		{"name > 0", false},
		{"name != 0", false},
		{"missing > 0", false},
		{"missing != 0", false},
		{"nothing == 0", false},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.condition, record)
		if err != nil {
			t.Fatalf("evaluate %q: %v", tt.condition, err)
		}
		if got != tt.want {
			t.Fatalf("evaluate %q: expected %v, got %v", tt.condition, tt.want, got)
		}
	}
}

func TestEvaluate_String(t *testing.T) {
	record := domain.Record{"status": "active", "code": float64(2), "label": "it's"}
	tests := []struct {
		condition string
		want      bool
	}{
		{"status == 'active'", true},
		{`status == "active"`, true},
		{"status != 'active'", false},
		{"status == 'Active'", false},
		{"code == '2'", true},
		{`label == 'it\'s'`, true},
		{"missing == 'x'", false},
		{"missing != 'x'", false},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.condition, record)
		if err != nil {
			t.Fatalf("evaluate %q: %v", tt.condition, err)
		}
		if got != tt.want {
			t.Fatalf("evaluate %q: expected %v, got %v", tt.condition, tt.want, got)
		}
	}
}

func TestToString_WholeFloats(t *testing.T) {
	if ToString(float64(2)) != "2" {
		t.Fatalf("expected 2, got %q", ToString(float64(2)))
	}
	if ToString(int64(2)) != "2" {
		t.Fatalf("expected 2, got %q", ToString(int64(2)))
	}
	if ToString(2.5) != "2.5" {
		t.Fatalf("expected 2.5, got %q", ToString(2.5))
	}
}

func TestParse_ReportsReason(t *testing.T) {
	_, err := Parse("status >= 'b'")
	var exprErr *domain.InvalidExpressionError
	if !errors.As(err, &exprErr) {
		t.Fatalf("expected InvalidExpressionError, got %v", err)
	}
	if !strings.Contains(exprErr.Reason, "string literal") {
		t.Fatalf("unexpected reason %q", exprErr.Reason)
	}

	_, err = Parse("price > 1 || price < 0")
	if !errors.As(err, &exprErr) || !strings.Contains(exprErr.Reason, "unsupported operation") {
		t.Fatalf("expected unsupported operation, got %v", err)
	}
}
