// Package sheet provides the row-store the reconciler writes to.
//
// A row-store is a single sheet addressed by 1-based row index. Row 1 is the
// header and is never written by the reconciler. Rows are not indexed by
// customer id: the only lookup primitive is a read of the whole key column.
//
// Three backends implement Store:
//
//   - Google: the Google Sheets API v4
//   - XLSX:   a local workbook guarded by a file lock
//   - Memory: an in-process sheet for tests and load tests
package sheet

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/option"
)

// Store is the remote row-store contract.
type Store interface {
	// Find reads the full key column, row 1 first. Empty key cells are "".
	Find(ctx context.Context) ([]string, error)

	// Append writes row after the last used row.
	Append(ctx context.Context, row []any) error

	// Overwrite replaces the row at the 1-based rowIndex. row is padded to
	// the full span so no stale trailing cells survive.
	Overwrite(ctx context.Context, rowIndex int, row []any) error

	// DeleteRows removes rows start..end (1-based, inclusive) and shifts the
	// following rows up.
	DeleteRows(ctx context.Context, start, end int) error
}

// HeaderReader is implemented by stores that can read the header row.
type HeaderReader interface {
	Header(ctx context.Context) ([]string, error)
}

var (
	// ErrRowTooWide is returned when a row has more cells than the
	// configured column span.
	ErrRowTooWide = errors.New("row wider than sheet column span")

	// ErrInvalidRow is returned for writes targeting the header row or a
	// row outside the sheet.
	ErrInvalidRow = errors.New("invalid row index")

	// ErrUnknownBackend is returned by Open for unsupported backend names.
	ErrUnknownBackend = errors.New("unknown sheet backend")
)

// RemoteError wraps a failed row-store call: network, quota, auth or I/O.
// These failures are transient from the reconciler's point of view.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("row-store %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRemote reports whether err is, or wraps, a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

func remote(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Err: err}
}

// Backend names accepted by Open.
const (
	BackendGoogle = "google"
	BackendXLSX   = "xlsx"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Layout  Layout

	// Header is written to row 1 when a local sheet is created.
	Header []string

	// Google backend.
	SpreadsheetID   string
	CredentialsFile string
	ClientOptions   []option.ClientOption

	// XLSX backend.
	XLSXPath string
}

// Open constructs the configured store. The store is meant to be built once
// per process and shared by every reconciliation.
func Open(ctx context.Context, opts Options) (Store, error) {
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}

	switch opts.Backend {
	case BackendGoogle:
		clientOpts := opts.ClientOptions
		if opts.CredentialsFile != "" {
			clientOpts = append(GoogleCredentials(opts.CredentialsFile), clientOpts...)
		}
		g, err := NewGoogle(ctx, opts.SpreadsheetID, opts.Layout, clientOpts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	case BackendXLSX:
		x, err := NewXLSX(opts.XLSXPath, opts.Layout, opts.Header)
		if err != nil {
			return nil, err
		}
		return x, nil
	case BackendMemory:
		return NewMemory(opts.Layout, opts.Header), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
