// Package record provides the customer record model and the record normalizer.
//
// A Record is an ordered mapping from field name to value. Field order is
// significant: when no column contract is declared it is the order in which
// values are written to spreadsheet columns, so decoding keeps the key order
// of the source JSON object.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when record bytes are not a valid JSON object.
var ErrInvalidJSON = errors.New("record is not a valid JSON object")

// Field is a single named value of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is an insertion-ordered field mapping.
//
// Values are nil, string, float64, bool, []any, *Record, Timestamp or
// time.Time. The zero value is an empty record ready to use.
type Record struct {
	fields []Field
	index  map[string]int
}

// New returns an empty record.
func New() *Record {
	return &Record{index: make(map[string]int)}
}

// FromFields builds a record from fields in the given order. A repeated
// name keeps its first position and its last value.
func FromFields(fields ...Field) *Record {
	r := New()
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Set assigns a value. New names are appended; existing names keep their position.
func (r *Record) Set(name string, value any) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = value
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: value})
}

// Get returns the value stored under name.
func (r *Record) Get(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Has reports whether name is present, even with a nil value.
func (r *Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Delete removes name from the record, preserving the order of the rest.
func (r *Record) Delete(name string) {
	if r == nil {
		return
	}
	i, ok := r.index[name]
	if !ok {
		return
	}
	r.fields = append(r.fields[:i], r.fields[i+1:]...)
	delete(r.index, name)
	for j := i; j < len(r.fields); j++ {
		r.index[r.fields[j].Name] = j
	}
}

// Len returns the number of fields. A nil record has no fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// Keys returns field names in order.
func (r *Record) Keys() []string {
	keys := make([]string, 0, r.Len())
	if r == nil {
		return keys
	}
	for _, f := range r.fields {
		keys = append(keys, f.Name)
	}
	return keys
}

// Values returns field values in order.
func (r *Record) Values() []any {
	values := make([]any, 0, r.Len())
	if r == nil {
		return values
	}
	for _, f := range r.fields {
		values = append(values, f.Value)
	}
	return values
}

// Fields returns a copy of the ordered fields.
func (r *Record) Fields() []Field {
	if r == nil {
		return nil
	}
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Clone returns a deep copy of nested records and slices.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := New()
	for _, f := range r.fields {
		out.Set(f.Name, cloneValue(f.Value))
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case *Record:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether both records hold the same fields in the same order.
func (r *Record) Equal(other *Record) bool {
	if r.Len() != other.Len() {
		return false
	}
	if r.Len() == 0 {
		return true
	}
	return reflect.DeepEqual(r.fields, other.fields)
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r != nil {
		for i, f := range r.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Name)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			val, err := json.Marshal(f.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal field %q: %w", f.Name, err)
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// Parse decodes a JSON object into a record.
func Parse(data []byte) (*Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return nil, ErrInvalidJSON
	}
	return FromResult(res), nil
}

// FromResult converts a parsed gjson object into a record.
// Non-object results yield an empty record.
func FromResult(res gjson.Result) *Record {
	r := New()
	if !res.IsObject() {
		return r
	}
	res.ForEach(func(key, value gjson.Result) bool {
		r.Set(key.String(), valueOf(value))
		return true
	})
	return r
}

func valueOf(res gjson.Result) any {
	switch res.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return res.Num
	case gjson.String:
		return res.Str
	}
	if res.IsObject() {
		return FromResult(res)
	}
	if res.IsArray() {
		items := res.Array()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueOf(item)
		}
		return out
	}
	return nil
}
