package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sheetsync/custsync/internal/logging"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// setupJournal opens a journal in a temp directory with its schema.
func setupJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	j.SetLogger(logging.Discard())
	if err := j.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return j
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") should fail")
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	j := setupJournal(t)
	if err := j.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	j := setupJournal(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{CustomerID: "a", Op: "append", Status: "ok", StartedAt: t0, Duration: 12 * time.Millisecond},
		{CustomerID: "b", Op: "overwrite", Row: 3, Status: "ok", StartedAt: t0.Add(time.Minute)},
		{CustomerID: "a", Op: "noop", Status: "failed", Error: "row-store find failed: timeout", StartedAt: t0.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	all, err := j.Recent(ctx, Filter{})
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Error != entries[2].Error || !all[0].StartedAt.Equal(entries[2].StartedAt) {
		t.Errorf("newest entry = %+v", all[0])
	}
	if all[2].Duration != 12*time.Millisecond {
		t.Errorf("duration = %v, want 12ms", all[2].Duration)
	}

	forA, err := j.Recent(ctx, Filter{CustomerID: "a", Status: "ok"})
	if err != nil {
		t.Fatalf("Recent(a) failed: %v", err)
	}
	if len(forA) != 1 || forA[0].Op != "append" {
		t.Errorf("filtered entries = %+v", forA)
	}

	recent, err := j.Recent(ctx, Filter{Since: t0.Add(30 * time.Second), Limit: 1})
	if err != nil {
		t.Fatalf("Recent(since) failed: %v", err)
	}
	if len(recent) != 1 || recent[0].CustomerID != "a" {
		t.Errorf("since+limit entries = %+v", recent)
	}
}

func TestCountsAndLastPass(t *testing.T) {
	ctx := context.Background()
	j := setupJournal(t)

	last, err := j.LastPass(ctx)
	if err != nil || last != nil {
		t.Fatalf("LastPass() on empty journal = %v, %v", last, err)
	}

	for _, op := range []string{"append", "append", "delete"} {
		if err := j.Record(ctx, Entry{CustomerID: "c", Op: op, Status: "ok"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Record(ctx, Entry{CustomerID: "c", Op: "append", Status: "failed"}); err != nil {
		t.Fatal(err)
	}

	counts, err := j.Counts(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	want := map[string]map[string]int{
		"append": {"ok": 2, "failed": 1},
		"delete": {"ok": 1},
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}

	last, err = j.LastPass(ctx)
	if err != nil || last == nil {
		t.Fatalf("LastPass() = %v, %v", last, err)
	}
}

func TestOnPass(t *testing.T) {
	ctx := context.Background()
	j := setupJournal(t)

	j.OnPass(custsync.Pass{
		Event:     custsync.ChangeEvent{CustomerID: "cust-42"},
		Operation: custsync.Operation{Kind: custsync.OpDelete, Row: 7},
		Err:       errors.New("quota"),
		Started:   time.Now(),
		Duration:  time.Second,
	})

	entries, err := j.Recent(ctx, Filter{CustomerID: "cust-42"})
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Op != "delete" || e.Row != 7 || e.Status != "failed" || e.Error != "quota" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.ID == "" {
		t.Error("entry id not generated")
	}
}

func TestRecord_RequiresCustomer(t *testing.T) {
	j := setupJournal(t)
	if err := j.Record(context.Background(), Entry{Op: "noop"}); err == nil {
		t.Error("entry without customer accepted")
	}
}
