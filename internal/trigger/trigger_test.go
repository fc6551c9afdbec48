package trigger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/sheet"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_DeliversEvent(t *testing.T) {
	var got custsync.ChangeEvent
	h := Handler(func(_ context.Context, ev custsync.ChangeEvent) error {
		got = ev
		return nil
	}, logging.Discard())

	resp := post(t, h, "/v1/customers/cust-42/change", `{"before":null,"after":{"name":"Ann","plan":"pro"}}`)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body)
	}
	if got.CustomerID != "cust-42" || got.Before != nil {
		t.Errorf("unexpected event %+v", got)
	}
	if diff := cmp.Diff([]string{"name", "plan"}, got.After.Keys()); diff != "" {
		t.Errorf("after keys mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	h := Handler(func(context.Context, custsync.ChangeEvent) error {
		t.Error("handler should not be called")
		return nil
	}, logging.Discard())

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad id", "/v1/customers/a.b/change", `{}`},
		{"empty body", "/v1/customers/a/change", ``},
		{"not json", "/v1/customers/a/change", `{"after":`},
		{"array", "/v1/customers/a/change", `[1]`},
		{"scalar after", "/v1/customers/a/change", `{"after":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, h, tt.path, tt.body)
			if resp.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.Code)
			}
			if !strings.Contains(resp.Body.String(), `"error"`) {
				t.Errorf("missing error body: %s", resp.Body)
			}
		})
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := Handler(func(context.Context, custsync.ChangeEvent) error { return nil }, logging.Discard())
	req := httptest.NewRequest(http.MethodGet, "/v1/customers/a/change", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusNoContent},
		{fmt.Errorf("x: %w", custsync.ErrInvalidCustomerID), http.StatusBadRequest},
		{fmt.Errorf("field %q: %w", "since", record.ErrMalformedTimestamp), http.StatusUnprocessableEntity},
		{sheet.ErrRowTooWide, http.StatusUnprocessableEntity},
		{&sheet.RemoteError{Op: "find", Err: errors.New("503")}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	layout := sheet.DefaultLayout()
	mem := sheet.NewMemory(layout, []string{"customerId"})
	opts := custsync.DefaultOptions()
	opts.Logger = logging.Discard()
	r, err := custsync.New(mem, layout, opts)
	if err != nil {
		t.Fatal(err)
	}
	h := Handler(r.OnCustomerChange, logging.Discard())

	resp := post(t, h, "/v1/customers/cust-42/change", `{"after":{"since":{"_seconds":1700000000,"_nanoseconds":0}}}`)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("create status = %d, body = %s", resp.Code, resp.Body)
	}
	resp = post(t, h, "/v1/customers/cust-42/change", `{"before":{},"after":{"since":{"_seconds":1}}}`)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed status = %d, want 422", resp.Code)
	}

	want := [][]any{{"customerId"}, {"cust-42", "2023-11-14T22:13:20.000Z"}}
	if diff := cmp.Diff(want, mem.Rows()); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}
