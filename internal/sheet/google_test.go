package sheet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/option"
)

type sheetsRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// fakeSheets records Sheets API requests and serves a fixed key column.
type fakeSheets struct {
	mu       sync.Mutex
	requests []sheetsRequest
	keys     [][]any
	status   int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, sheetsRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	status := f.status
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"permission denied"}}`))
		return
	}
	if r.Method == http.MethodGet {
		_ = json.NewEncoder(w).Encode(map[string]any{"range": "Sheet1!A1:A3", "majorDimension": "ROWS", "values": f.keys})
		return
	}
	_, _ = w.Write([]byte(`{}`))
}

func setupGoogle(t *testing.T) (*Google, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{keys: [][]any{{"customerId"}, {"a"}, {}, {"c"}}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	g, err := NewGoogle(context.Background(), "sheet-123", DefaultLayout(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewGoogle failed: %v", err)
	}
	return g, fake
}

func TestGoogle_Find(t *testing.T) {
	g, fake := setupGoogle(t)

	keys, err := g.Find(context.Background())
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if diff := cmp.Diff([]string{"customerId", "a", "", "c"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	req := fake.requests[0]
	if req.Method != http.MethodGet || !strings.HasSuffix(req.Path, "/v4/spreadsheets/sheet-123/values/Sheet1!A:A") {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
}

func TestGoogle_AppendUsesRawInput(t *testing.T) {
	g, fake := setupGoogle(t)

	if err := g.Append(context.Background(), []any{"d", "Dee"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	req := fake.requests[0]
	if req.Method != http.MethodPost || !strings.HasSuffix(req.Path, "/values/Sheet1!A2:A:append") {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	if !strings.Contains(req.Query, "valueInputOption=RAW") {
		t.Errorf("query %q missing valueInputOption=RAW", req.Query)
	}
	want := []any{[]any{"d", "Dee"}}
	if diff := cmp.Diff(want, req.Body["values"]); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestGoogle_OverwritePadsRow(t *testing.T) {
	g, fake := setupGoogle(t)

	if err := g.Overwrite(context.Background(), 4, []any{"c", "Cid"}); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	req := fake.requests[0]
	if req.Method != http.MethodPut || !strings.HasSuffix(req.Path, "/values/Sheet1!A4:O4") {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	rows, _ := req.Body["values"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %v", req.Body["values"])
	}
	if cells, _ := rows[0].([]any); len(cells) != 15 {
		t.Errorf("row has %d cells, want 15", len(cells))
	}
}

func TestGoogle_DeleteRowsSendsDimensionRange(t *testing.T) {
	g, fake := setupGoogle(t)

	if err := g.DeleteRows(context.Background(), 3, 3); err != nil {
		t.Fatalf("DeleteRows failed: %v", err)
	}

	req := fake.requests[0]
	if !strings.HasSuffix(req.Path, "/v4/spreadsheets/sheet-123:batchUpdate") {
		t.Errorf("unexpected path %s", req.Path)
	}
	want := map[string]any{
		"requests": []any{
			map[string]any{
				"deleteDimension": map[string]any{
					"range": map[string]any{
						"sheetId":    0.0,
						"dimension":  "ROWS",
						"startIndex": 2.0,
						"endIndex":   3.0,
					},
				},
			},
		},
	}
	if diff := cmp.Diff(want, req.Body); diff != "" {
		t.Errorf("batchUpdate body mismatch (-want +got):\n%s", diff)
	}
}

func TestGoogle_FailuresAreRemote(t *testing.T) {
	g, fake := setupGoogle(t)
	fake.status = http.StatusForbidden

	if _, err := g.Find(context.Background()); !IsRemote(err) {
		t.Errorf("Find = %v, want RemoteError", err)
	}
	if err := g.Append(context.Background(), []any{"x"}); !IsRemote(err) {
		t.Errorf("Append = %v, want RemoteError", err)
	}
}
