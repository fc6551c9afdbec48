package sheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/xuri/excelize/v2"
)

// lockRetryDelay is how often a blocked call retries the workbook lock.
const lockRetryDelay = 25 * time.Millisecond

// XLSX is a Store backed by a local .xlsx workbook.
//
// Every call takes an exclusive lock on <path>.lock, opens the workbook,
// applies the change and saves it, so the daemon and one-shot CLI commands
// can share a workbook safely. A missing workbook is created with the
// header row on first use.
type XLSX struct {
	path   string
	layout Layout
	header []string

	// mu orders calls within the process; a flock handle already held by
	// this process reports success to every caller.
	mu   sync.Mutex
	lock *flock.Flock
}

// NewXLSX creates a workbook store. The file is not touched until the first call.
func NewXLSX(path string, layout Layout, header []string) (*XLSX, error) {
	if path == "" {
		return nil, fmt.Errorf("xlsx path is required")
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if len(header) > layout.Width() {
		return nil, fmt.Errorf("%w: header has %d cells", ErrRowTooWide, len(header))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create workbook directory: %w", err)
	}
	return &XLSX{
		path:   path,
		layout: layout,
		header: header,
		lock:   flock.New(path + ".lock"),
	}, nil
}

// Path returns the workbook path.
func (x *XLSX) Path() string {
	return x.path
}

// Find implements Store.
func (x *XLSX) Find(ctx context.Context) ([]string, error) {
	var keys []string
	err := x.withFile(ctx, "find", false, func(f *excelize.File) error {
		rows, err := f.GetRows(x.layout.Sheet)
		if err != nil {
			return err
		}
		keyIdx := x.layout.KeyIndex() - 1
		keys = make([]string, len(rows))
		for i, row := range rows {
			if len(row) > keyIdx {
				keys[i] = row[keyIdx]
			}
		}
		return nil
	})
	return keys, err
}

// Header implements HeaderReader.
func (x *XLSX) Header(ctx context.Context) ([]string, error) {
	var header []string
	err := x.withFile(ctx, "header", false, func(f *excelize.File) error {
		rows, err := f.GetRows(x.layout.Sheet)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		first := x.layout.KeyIndex() - 1
		last := first + x.layout.Width()
		row := rows[0]
		if last > len(row) {
			last = len(row)
		}
		if first < last {
			header = append(header, row[first:last]...)
		}
		return nil
	})
	return header, err
}

// Append implements Store. The row lands after the last used row, never on
// the header row.
func (x *XLSX) Append(ctx context.Context, row []any) error {
	if len(row) > x.layout.Width() {
		return fmt.Errorf("%w: %d cells", ErrRowTooWide, len(row))
	}
	return x.withFile(ctx, "append", true, func(f *excelize.File) error {
		rows, err := f.GetRows(x.layout.Sheet)
		if err != nil {
			return err
		}
		next := len(rows) + 1
		if next < 2 {
			next = 2
		}
		return x.setRow(f, next, row)
	})
}

// Overwrite implements Store.
func (x *XLSX) Overwrite(ctx context.Context, rowIndex int, row []any) error {
	if rowIndex < 2 {
		return fmt.Errorf("%w: %d", ErrInvalidRow, rowIndex)
	}
	padded, err := x.layout.Pad(row)
	if err != nil {
		return err
	}
	return x.withFile(ctx, "overwrite", true, func(f *excelize.File) error {
		return x.setRow(f, rowIndex, padded)
	})
}

// DeleteRows implements Store.
func (x *XLSX) DeleteRows(ctx context.Context, start, end int) error {
	if start < 2 || end < start {
		return fmt.Errorf("%w: %d..%d", ErrInvalidRow, start, end)
	}
	return x.withFile(ctx, "delete", true, func(f *excelize.File) error {
		for r := end; r >= start; r-- {
			if err := f.RemoveRow(x.layout.Sheet, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (x *XLSX) setRow(f *excelize.File, rowIndex int, row []any) error {
	cell, err := excelize.CoordinatesToCellName(x.layout.KeyIndex(), rowIndex)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(row))
	copy(values, row)
	return f.SetSheetRow(x.layout.Sheet, cell, &values)
}

// withFile runs fn on the workbook under the file lock. Failures are
// reported as RemoteErrors.
func (x *XLSX) withFile(ctx context.Context, op string, write bool, fn func(f *excelize.File) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	locked, err := x.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return remote(op, fmt.Errorf("failed to lock workbook: %w", err))
	}
	if !locked {
		return remote(op, fmt.Errorf("workbook %s is locked", x.path))
	}
	defer func() { _ = x.lock.Unlock() }()

	f, err := x.open()
	if err != nil {
		return remote(op, err)
	}
	defer func() { _ = f.Close() }()

	if err := fn(f); err != nil {
		if errors.Is(err, ErrRowTooWide) || errors.Is(err, ErrInvalidRow) {
			return err
		}
		return remote(op, err)
	}
	if !write {
		return nil
	}
	if err := f.SaveAs(x.path); err != nil {
		return remote(op, fmt.Errorf("failed to save workbook: %w", err))
	}
	return nil
}

// open loads the workbook, creating it with the header row when missing.
func (x *XLSX) open() (*excelize.File, error) {
	if _, err := os.Stat(x.path); os.IsNotExist(err) {
		return x.create()
	}
	f, err := excelize.OpenFile(x.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	idx, err := f.GetSheetIndex(x.layout.Sheet)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if idx == -1 {
		if _, err := f.NewSheet(x.layout.Sheet); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to add sheet %s: %w", x.layout.Sheet, err)
		}
		if err := x.writeHeader(f); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (x *XLSX) create() (*excelize.File, error) {
	f := excelize.NewFile()
	if x.layout.Sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", x.layout.Sheet); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to name sheet %s: %w", x.layout.Sheet, err)
		}
	}
	if err := x.writeHeader(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func (x *XLSX) writeHeader(f *excelize.File) error {
	if len(x.header) == 0 {
		return nil
	}
	row := make([]any, len(x.header))
	for i, h := range x.header {
		row[i] = h
	}
	if err := x.setRow(f, 1, row); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}
