// Package expression parses and evaluates filter conditions of the form
// `field op literal` against a single record. Conditions use CEL syntax,
// restricted to one comparison.
package expression

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"

	"github.com/rpattn/canvasdb/internal/domain"
)

// Operator is a comparison operator.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

func (o Operator) ordering() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	default:
		return false
	}
}

// Condition is a parsed filter condition. It is immutable and safe to share.
type Condition struct {
	source  string
	field   string
	op      Operator
	numeric bool
	number  float64
	text    string
}

// Field returns the record field the condition reads.
func (c *Condition) Field() string { return c.field }

// Operator returns the comparison operator.
func (c *Condition) Operator() Operator { return c.op }

// String returns the condition as written.
func (c *Condition) String() string { return c.source }

// Parse compiles a condition. The text is parsed as a CEL expression and must
// be a single comparison with a field on the left and a number or quoted
// string on the right. Every failure is an *domain.InvalidExpressionError.
func Parse(condition string) (*Condition, error) {
	fail := func(format string, args ...any) (*Condition, error) {
		return nil, &domain.InvalidExpressionError{Condition: condition, Reason: fmt.Sprintf(format, args...)}
	}
	if strings.TrimSpace(condition) == "" {
		return fail("condition is empty")
	}

	parsed, issues := celEnv.Parse(condition)
	if issues != nil && issues.Err() != nil {
		return fail("%s", firstIssue(issues))
	}

	root := parsed.NativeRep().Expr()
	if root.Kind() != celast.CallKind {
		return fail("expected a comparison such as price > 0")
	}
	call := root.AsCall()
	op, ok := comparisons[call.FunctionName()]
	if !ok || call.IsMemberFunction() || len(call.Args()) != 2 {
		return fail("unsupported operation %q, expected one of >, <, >=, <=, ==, !=", call.FunctionName())
	}

	field, ok := fieldPath(call.Args()[0])
	if !ok {
		return fail("left side of %s must be a field name", op)
	}
	cond := &Condition{source: condition, field: field, op: op}
	if err := cond.setLiteral(call.Args()[1]); err != nil {
		return fail("%v", err)
	}
	return cond, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(condition string) *Condition {
	cond, err := Parse(condition)
	if err != nil {
		panic(err)
	}
	return cond
}

// Evaluate parses condition and evaluates it against record.
func Evaluate(condition string, record domain.Record) (bool, error) {
	cond, err := Parse(condition)
	if err != nil {
		return false, err
	}
	return cond.Evaluate(record), nil
}

// Evaluate reports whether record satisfies the condition. Absent, null or
// non-numeric values never satisfy a comparison.
func (c *Condition) Evaluate(record domain.Record) bool {
	value, ok := record[c.field]
	if !ok || value == nil {
		return false
	}
	if c.numeric {
		number, ok := ToFloat(value)
		if !ok {
			return false
		}
		return compareNumbers(number, c.op, c.number)
	}
	text := ToString(value)
	switch c.op {
	case OpEqual:
		return text == c.text
	case OpNotEqual:
		return text != c.text
	default:
		return false
	}
}

func compareNumbers(left float64, op Operator, right float64) bool {
	switch op {
	case OpGreater:
		return left > right
	case OpLess:
		return left < right
	case OpGreaterEqual:
		return left >= right
	case OpLessEqual:
		return left <= right
	case OpEqual:
		return left == right
	case OpNotEqual:
		return left != right
	default:
		return false
	}
}

// ToFloat coerces a record value to float64.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ToString renders a record value the way it is compared against string
// literals and join keys. Whole floats drop their fraction so 2 and 2.0
// compare equal.
func ToString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

var celEnv = newCELEnv()

func newCELEnv() *cel.Env {
	env, err := cel.NewEnv()
	if err != nil {
		panic(fmt.Sprintf("expression: create CEL environment: %v", err))
	}
	return env
}

var comparisons = map[string]Operator{
	operators.Greater:       OpGreater,
	operators.Less:          OpLess,
	operators.GreaterEquals: OpGreaterEqual,
	operators.LessEquals:    OpLessEqual,
	operators.Equals:        OpEqual,
	operators.NotEquals:     OpNotEqual,
}

func firstIssue(issues *cel.Issues) string {
	if errs := issues.Errors(); len(errs) > 0 {
		return errs[0].Message
	}
	return issues.Err().Error()
}

// fieldPath accepts an identifier or a chain of field selections and returns
// it dotted, so `meta.kind` reads the record key "meta.kind".
func fieldPath(expr celast.Expr) (string, bool) {
	switch expr.Kind() {
	case celast.IdentKind:
		return expr.AsIdent(), true
	case celast.SelectKind:
		sel := expr.AsSelect()
		if sel.IsTestOnly() {
			return "", false
		}
		base, ok := fieldPath(sel.Operand())
		if !ok {
			return "", false
		}
		return base + "." + sel.FieldName(), true
	default:
		return "", false
	}
}

func (c *Condition) setLiteral(expr celast.Expr) error {
	if expr.Kind() != celast.LiteralKind {
		return fmt.Errorf("right side of %s must be a number or quoted string", c.op)
	}
	switch v := expr.AsLiteral().(type) {
	case types.Int:
		c.numeric, c.number = true, float64(v)
	case types.Uint:
		c.numeric, c.number = true, float64(v)
	case types.Double:
		number := float64(v)
		if math.IsNaN(number) || math.IsInf(number, 0) {
			return fmt.Errorf("numeric literal must be finite")
		}
		c.numeric, c.number = true, number
	case types.String:
		if c.op.ordering() {
			return fmt.Errorf("operator %s cannot compare against a string literal", c.op)
		}
		c.text = string(v)
	default:
		return fmt.Errorf("unsupported literal of type %s", v.Type().TypeName())
	}
	return nil
}
