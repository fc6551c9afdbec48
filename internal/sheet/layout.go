package sheet

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Layout fixes where customer rows live in the sheet: the sheet name, its
// numeric id (for structural requests), the key column, and the last column
// of the data span.
type Layout struct {
	Sheet      string
	SheetID    int64
	KeyColumn  string
	LastColumn string
}

// DefaultLayout returns the layout of a fresh spreadsheet: Sheet1, key in
// column A, data through column O.
func DefaultLayout() Layout {
	return Layout{
		Sheet:      "Sheet1",
		SheetID:    0,
		KeyColumn:  "A",
		LastColumn: "O",
	}
}

// Validate checks the sheet name and column letters.
func (l Layout) Validate() error {
	if l.Sheet == "" {
		return fmt.Errorf("sheet name is required")
	}
	key, err := excelize.ColumnNameToNumber(l.KeyColumn)
	if err != nil {
		return fmt.Errorf("invalid key column %q: %w", l.KeyColumn, err)
	}
	last, err := excelize.ColumnNameToNumber(l.LastColumn)
	if err != nil {
		return fmt.Errorf("invalid last column %q: %w", l.LastColumn, err)
	}
	if last < key {
		return fmt.Errorf("last column %s is before key column %s", l.LastColumn, l.KeyColumn)
	}
	return nil
}

// KeyIndex returns the 1-based number of the key column.
func (l Layout) KeyIndex() int {
	n, _ := excelize.ColumnNameToNumber(l.KeyColumn)
	return n
}

// Width returns the number of cells in a row, key cell included.
func (l Layout) Width() int {
	key, err := excelize.ColumnNameToNumber(l.KeyColumn)
	if err != nil {
		return 0
	}
	last, err := excelize.ColumnNameToNumber(l.LastColumn)
	if err != nil {
		return 0
	}
	return last - key + 1
}

// KeyRange addresses the whole key column, e.g. Sheet1!A:A.
func (l Layout) KeyRange() string {
	return fmt.Sprintf("%s!%s:%s", l.quotedSheet(), l.KeyColumn, l.KeyColumn)
}

// AppendRange is the table anchor used for appends, e.g. Sheet1!A2:A.
func (l Layout) AppendRange() string {
	return fmt.Sprintf("%s!%s2:%s", l.quotedSheet(), l.KeyColumn, l.KeyColumn)
}

// RowRange spans one full row, e.g. Sheet1!A5:O5.
func (l Layout) RowRange(row int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", l.quotedSheet(), l.KeyColumn, row, l.LastColumn, row)
}

// HeaderRange spans the header row.
func (l Layout) HeaderRange() string {
	return l.RowRange(1)
}

// Pad right-pads row with empty cells to the full span so an overwrite
// clears cells left over from a wider previous row.
func (l Layout) Pad(row []any) ([]any, error) {
	width := l.Width()
	if len(row) > width {
		return nil, fmt.Errorf("%w: %d cells, span %s..%s holds %d",
			ErrRowTooWide, len(row), l.KeyColumn, l.LastColumn, width)
	}
	out := make([]any, width)
	copy(out, row)
	for i := len(row); i < width; i++ {
		out[i] = ""
	}
	return out, nil
}

var plainSheetName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// quotedSheet returns the sheet name as it must appear in A1 notation.
func (l Layout) quotedSheet() string {
	if plainSheetName.MatchString(l.Sheet) {
		return l.Sheet
	}
	return "'" + strings.ReplaceAll(l.Sheet, "'", "''") + "'"
}
