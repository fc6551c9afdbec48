package sheet

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/sheetsync/custsync/internal/record"
)

const valueInputRaw = "RAW"

// Google is a Store backed by the Google Sheets API v4.
//
// The service is built once in NewGoogle and reused for every call.
type Google struct {
	svc           *sheets.Service
	spreadsheetID string
	layout        Layout
}

// GoogleCredentials returns client options authenticating with a service
// account key file, scoped to spreadsheets.
func GoogleCredentials(file string) []option.ClientOption {
	return []option.ClientOption{
		option.WithCredentialsFile(file),
		option.WithScopes(sheets.SpreadsheetsScope),
	}
}

// NewGoogle builds the Sheets client for one spreadsheet.
func NewGoogle(ctx context.Context, spreadsheetID string, layout Layout, opts ...option.ClientOption) (*Google, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &Google{svc: svc, spreadsheetID: spreadsheetID, layout: layout}, nil
}

// Find implements Store.
func (g *Google) Find(ctx context.Context) ([]string, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.layout.KeyRange()).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, remote("find", err)
	}
	keys := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			keys[i] = record.CellString(row[0])
		}
	}
	return keys, nil
}

// Header implements HeaderReader.
func (g *Google) Header(ctx context.Context) ([]string, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.layout.HeaderRange()).
		Context(ctx).
		Do()
	if err != nil {
		return nil, remote("header", err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	header := make([]string, len(resp.Values[0]))
	for i, v := range resp.Values[0] {
		header[i] = record.CellString(v)
	}
	return header, nil
}

// Append implements Store.
func (g *Google) Append(ctx context.Context, row []any) error {
	if len(row) > g.layout.Width() {
		return fmt.Errorf("%w: %d cells", ErrRowTooWide, len(row))
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, g.layout.AppendRange(), vr).
		ValueInputOption(valueInputRaw).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return remote("append", err)
}

// Overwrite implements Store.
func (g *Google) Overwrite(ctx context.Context, rowIndex int, row []any) error {
	if rowIndex < 2 {
		return fmt.Errorf("%w: %d", ErrInvalidRow, rowIndex)
	}
	padded, err := g.layout.Pad(row)
	if err != nil {
		return err
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{padded}}
	_, err = g.svc.Spreadsheets.Values.Update(g.spreadsheetID, g.layout.RowRange(rowIndex), vr).
		ValueInputOption(valueInputRaw).
		Context(ctx).
		Do()
	return remote("overwrite", err)
}

// DeleteRows implements Store with a single deleteDimension request.
func (g *Google) DeleteRows(ctx context.Context, start, end int) error {
	if start < 2 || end < start {
		return fmt.Errorf("%w: %d..%d", ErrInvalidRow, start, end)
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    g.layout.SheetID,
					Dimension:  "ROWS",
					StartIndex: int64(start - 1),
					EndIndex:   int64(end),
					// SheetId 0 is the first sheet and must still be sent.
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	return remote("delete", err)
}
