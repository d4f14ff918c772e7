// Package record provides the typed field accessor used for transaction
// records and the condition language evaluated against them.
//
// Transaction sources return loosely shaped documents whose field names
// depend on the source type (sales orders, invoices, paid invoices). Record
// wraps such a document and exposes typed lookups so rule evaluation never
// needs reflection or ad hoc type switches at call sites.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Record is a single transaction record keyed by field name.
//
// The zero value is an empty record. Set mutates the record in place; use
// Clone before mutating a record that is shared with other stages.
type Record struct {
	fields map[string]any
}

// New creates a record from a field map. The map is copied.
func New(fields map[string]any) Record {
	r := Record{fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		r.fields[k] = v
	}
	return r
}

// Clone returns a shallow copy that can be mutated independently.
func (r Record) Clone() Record {
	return New(r.fields)
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Has reports whether the field exists and is non-null.
func (r Record) Has(name string) bool {
	v, ok := r.fields[name]
	return ok && v != nil
}

// Value returns the raw value of a field.
func (r Record) Value(name string) (any, bool) {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String returns the field rendered as a string. Numbers are formatted
// without exponent; booleans as "true"/"false".
func (r Record) String(name string) (string, bool) {
	v, ok := r.Value(name)
	if !ok {
		return "", false
	}
	return formatScalar(v), true
}

// Number returns the field as a decimal. Strings are parsed; values that
// are not numeric report false.
func (r Record) Number(name string) (decimal.Decimal, bool) {
	v, ok := r.Value(name)
	if !ok {
		return decimal.Zero, false
	}
	return toDecimal(v)
}

// Time returns the field parsed as an RFC 3339 timestamp or a plain date.
func (r Record) Time(name string) (time.Time, bool) {
	v, ok := r.Value(name)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return ParseTime(t)
	}
	return time.Time{}, false
}

// Set assigns a field value in place.
func (r *Record) Set(name string, value any) {
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	r.fields[name] = value
}

// Fields returns a copy of the underlying field map.
func (r Record) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Keys returns field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the record as a plain JSON object.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.fields)
}

// UnmarshalJSON decodes a JSON object, keeping numbers as json.Number so
// large amounts do not lose precision through float64.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	r.fields = m
	if r.fields == nil {
		r.fields = map[string]any{}
	}
	return nil
}

// UnmarshalYAML decodes a YAML mapping into the record.
func (r *Record) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	r.fields = m
	if r.fields == nil {
		r.fields = map[string]any{}
	}
	return nil
}

// ParseTime accepts RFC 3339 timestamps and YYYY-MM-DD dates.
func ParseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Zero, false
}

func formatScalar(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case decimal.Decimal:
		return s.String()
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case time.Time:
		return s.Format(time.RFC3339)
	}
	return fmt.Sprintf("%v", v)
}
