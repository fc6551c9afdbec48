package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	custsync "github.com/sheetsync/custsync/internal/sync"
)

func pass(kind custsync.OpKind, err error) custsync.Pass {
	return custsync.Pass{
		Event:     custsync.ChangeEvent{CustomerID: "a"},
		Operation: custsync.Operation{Kind: kind},
		Err:       err,
		Started:   time.Now(),
		Duration:  20 * time.Millisecond,
	}
}

// counterValue returns the value of the custsync_passes_total series with
// the given labels.
func counterValue(t *testing.T, c *Collector, op, status string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "custsync_passes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["op"] == op && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestCollector_OnPass(t *testing.T) {
	c := New()
	c.OnPass(pass(custsync.OpAppend, nil))
	c.OnPass(pass(custsync.OpAppend, nil))
	c.OnPass(pass(custsync.OpOverwrite, errors.New("quota")))

	if got := counterValue(t, c, "append", "ok"); got != 2 {
		t.Errorf("append/ok = %v, want 2", got)
	}
	if got := counterValue(t, c, "overwrite", "failed"); got != 1 {
		t.Errorf("overwrite/failed = %v, want 1", got)
	}
	if got := counterValue(t, c, "delete", "ok"); got != 0 {
		t.Errorf("delete/ok = %v, want 0", got)
	}
}

func TestCollector_SetPending(t *testing.T) {
	c := New()
	c.SetPending(7)
	if body := scrape(t, c); !strings.Contains(body, "custsync_pending_changes 7") {
		t.Errorf("pending gauge not exported:\n%s", body)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.OnPass(pass(custsync.OpDelete, nil))

	body := scrape(t, c)
	for _, want := range []string{
		`custsync_passes_total{op="delete",status="ok"} 1`,
		`custsync_pass_duration_seconds_bucket{op="delete"`,
		"custsync_pending_changes 0",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
