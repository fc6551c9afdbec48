package sheet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sheetsync/custsync/internal/record"
)

// Call is one recorded row-store call on a Memory store.
type Call struct {
	Op     string
	Start  int
	End    int
	Values []any
}

// Memory is an in-process Store. Row 1 is the header.
// It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	layout  Layout
	rows    [][]any
	calls   []Call
	latency time.Duration
	fail    map[string]error
}

// NewMemory creates a sheet holding only the header row.
func NewMemory(layout Layout, header []string) *Memory {
	h := make([]any, len(header))
	for i, v := range header {
		h[i] = v
	}
	return &Memory{
		layout: layout,
		rows:   [][]any{h},
		fail:   make(map[string]error),
	}
}

// AddRows appends rows without recording calls. Used to seed a sheet.
func (m *Memory) AddRows(rows ...[]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.rows = append(m.rows, cloneRow(row))
	}
}

// SetLatency delays every subsequent call by d.
func (m *Memory) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailOn makes every subsequent call of op ("find", "append", "overwrite",
// "delete") return err wrapped in a RemoteError. A nil err clears it.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Rows returns a copy of all rows, header first.
func (m *Memory) Rows() [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]any, len(m.rows))
	for i, row := range m.rows {
		out[i] = cloneRow(row)
	}
	return out
}

// Calls returns the recorded calls in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Writes counts recorded append, overwrite and delete calls.
func (m *Memory) Writes() int {
	n := 0
	for _, c := range m.Calls() {
		if c.Op != "find" {
			n++
		}
	}
	return n
}

// Find implements Store.
func (m *Memory) Find(ctx context.Context) ([]string, error) {
	if err := m.begin(ctx, Call{Op: "find"}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(m.rows))
	for i, row := range m.rows {
		if len(row) > 0 {
			keys[i] = record.CellString(row[0])
		}
	}
	return keys, nil
}

// Header implements HeaderReader.
func (m *Memory) Header(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	header := make([]string, len(m.rows[0]))
	for i, v := range m.rows[0] {
		header[i] = record.CellString(v)
	}
	return header, nil
}

// Append implements Store.
func (m *Memory) Append(ctx context.Context, row []any) error {
	if len(row) > m.layout.Width() {
		return fmt.Errorf("%w: %d cells", ErrRowTooWide, len(row))
	}
	if err := m.begin(ctx, Call{Op: "append", Values: cloneRow(row)}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, cloneRow(row))
	return nil
}

// Overwrite implements Store. Writing past the last row extends the sheet.
func (m *Memory) Overwrite(ctx context.Context, rowIndex int, row []any) error {
	if rowIndex < 2 {
		return fmt.Errorf("%w: %d", ErrInvalidRow, rowIndex)
	}
	padded, err := m.layout.Pad(row)
	if err != nil {
		return err
	}
	if err := m.begin(ctx, Call{Op: "overwrite", Start: rowIndex, End: rowIndex, Values: cloneRow(padded)}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.rows) < rowIndex {
		m.rows = append(m.rows, []any{})
	}
	m.rows[rowIndex-1] = padded
	return nil
}

// DeleteRows implements Store.
func (m *Memory) DeleteRows(ctx context.Context, start, end int) error {
	if start < 2 || end < start {
		return fmt.Errorf("%w: %d..%d", ErrInvalidRow, start, end)
	}
	if err := m.begin(ctx, Call{Op: "delete", Start: start, End: end}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if start > len(m.rows) {
		return fmt.Errorf("%w: %d beyond last row %d", ErrInvalidRow, start, len(m.rows))
	}
	if end > len(m.rows) {
		end = len(m.rows)
	}
	m.rows = append(m.rows[:start-1], m.rows[end:]...)
	return nil
}

// begin records the call, waits out the configured latency and returns any
// injected failure.
func (m *Memory) begin(ctx context.Context, call Call) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	latency := m.latency
	failure := m.fail[call.Op]
	m.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return remote(call.Op, ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return remote(call.Op, err)
	}
	return remote(call.Op, failure)
}

func cloneRow(row []any) []any {
	out := make([]any, len(row))
	copy(out, row)
	return out
}
