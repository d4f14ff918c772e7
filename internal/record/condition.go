package record

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Operator is a comparison operator in a rule condition.
type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "!="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
)

// Operators lists the supported operators.
var Operators = []Operator{OpEqual, OpNotEqual, OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual}

// Valid reports whether the operator is supported.
func (o Operator) Valid() bool {
	for _, op := range Operators {
		if op == o {
			return true
		}
	}
	return false
}

// Literal is the right-hand side of a condition. Plan documents carry it as
// either a number or a string; both decode into the same textual form.
type Literal string

// Decimal parses the literal as a number.
func (l Literal) Decimal() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(string(l)))
	return d, err == nil
}

// UnmarshalJSON accepts a JSON string, number or boolean.
func (l *Literal) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("unmarshal literal: %w", err)
	}
	if raw == nil {
		*l = ""
		return nil
	}
	*l = Literal(formatScalar(raw))
	return nil
}

// UnmarshalYAML accepts any scalar node.
func (l *Literal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: condition value must be a scalar", node.Line)
	}
	*l = Literal(node.Value)
	return nil
}

// Condition compares one record field against a literal.
type Condition struct {
	Field    string   `json:"field" yaml:"field" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required"`
	Value    Literal  `json:"value" yaml:"value"`
}

// String renders the condition as "Field op Value".
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Operator, c.Value)
}

// Outcome is the result of evaluating a condition against a record.
type Outcome int

const (
	// Failed means the field was present and the comparison did not hold.
	Failed Outcome = iota
	// Matched means the field was present and the comparison held.
	Matched
	// MissingField means the record has no such field. Callers treat this
	// as a failed condition and surface it as a warning.
	MissingField
)

// String returns a lowercase label for logs.
func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case MissingField:
		return "missing_field"
	default:
		return "failed"
	}
}

// Evaluate compares the record's field against the literal.
//
// When both sides are numeric the comparison is numeric. Otherwise both
// sides are compared as NFC-normalized strings, so "=" and "!=" behave as
// exact text matches and the ordering operators compare lexically.
func (c Condition) Evaluate(r Record) Outcome {
	if !r.Has(c.Field) {
		return MissingField
	}

	var cmp int
	if left, ok := r.Number(c.Field); ok {
		if right, ok := c.Value.Decimal(); ok {
			cmp = left.Cmp(right)
			return boolOutcome(apply(c.Operator, cmp))
		}
	}

	left, _ := r.String(c.Field)
	cmp = strings.Compare(norm.NFC.String(left), norm.NFC.String(string(c.Value)))
	return boolOutcome(apply(c.Operator, cmp))
}

// Matches is shorthand for Evaluate(r) == Matched.
func (c Condition) Matches(r Record) bool {
	return c.Evaluate(r) == Matched
}

func apply(op Operator, cmp int) bool {
	switch op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpGreater:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	}
	return false
}

func boolOutcome(ok bool) Outcome {
	if ok {
		return Matched
	}
	return Failed
}
