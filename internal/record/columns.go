package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultKeyHeader is the header of the customer identifier column.
const DefaultKeyHeader = "customerId"

// Columns is the declared column contract of the sheet: the ordered field
// names written after the customer identifier. An empty contract falls back
// to each record's own field order.
type Columns []string

// Declared reports whether an explicit contract is configured.
func (c Columns) Declared() bool {
	return len(c) > 0
}

// Validate checks for empty and duplicate column names.
func (c Columns) Validate() error {
	seen := make(map[string]bool, len(c))
	for i, name := range c {
		if name == "" {
			return fmt.Errorf("column %d has an empty name", i+1)
		}
		if seen[name] {
			return fmt.Errorf("column %q is declared twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Header returns the expected header row for the contract.
func (c Columns) Header(keyHeader string) []string {
	if keyHeader == "" {
		keyHeader = DefaultKeyHeader
	}
	return append([]string{keyHeader}, c...)
}

// Project returns the record's values in column order. Fields missing from
// the record become nil so later columns stay aligned.
func (c Columns) Project(n *Record) []any {
	if !c.Declared() {
		return n.Values()
	}
	values := make([]any, len(c))
	for i, name := range c {
		v, _ := n.Get(name)
		values[i] = v
	}
	return values
}

// Extra lists record fields that the contract does not cover.
func (c Columns) Extra(n *Record) []string {
	if !c.Declared() {
		return nil
	}
	declared := make(map[string]bool, len(c))
	for _, name := range c {
		declared[name] = true
	}
	var extra []string
	for _, name := range n.Keys() {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	return extra
}

// Row builds a sheet row: the customer identifier in cell 0, then the
// projected values converted to cell scalars.
func (c Columns) Row(customerID string, n *Record) []any {
	values := c.Project(n)
	row := make([]any, 0, len(values)+1)
	row = append(row, customerID)
	for _, v := range values {
		row = append(row, CellValue(v))
	}
	return row
}

// CellValue converts a normalized value into a scalar a spreadsheet accepts.
// Nil becomes an empty cell; nested objects and arrays become compact JSON.
func CellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case string, bool, float64, float32, int, int32, int64:
		return val
	case *Record:
		data, err := val.MarshalJSON()
		if err != nil {
			return fmt.Sprint(val.Values()...)
		}
		return string(data)
	case []any, map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// CellString renders a cell scalar the way a sheet displays it. Used to
// compare keys read back from a row-store with customer identifiers.
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(val)
	}
}
