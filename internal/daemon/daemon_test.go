package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/sheet"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// fakeReconciler records every event and full sync it receives.
type fakeReconciler struct {
	mu       sync.Mutex
	events   []custsync.ChangeEvent
	synced   map[string]*record.Record
	failures int // remaining calls that fail with a remote error
}

func (f *fakeReconciler) OnCustomerChange(_ context.Context, ev custsync.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.failures > 0 {
		f.failures--
		return &sheet.RemoteError{Op: "find", Err: errors.New("unavailable")}
	}
	return nil
}

func (f *fakeReconciler) FullSync(_ context.Context, records map[string]*record.Record, _ int) (custsync.SyncStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = records
	return custsync.SyncStats{Total: len(records)}, nil
}

func (f *fakeReconciler) Events() []custsync.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]custsync.ChangeEvent, len(f.events))
	copy(out, f.events)
	return out
}

func testConfig(mode string) *Config {
	cfg := DefaultConfig()
	cfg.WatchMode = mode
	cfg.DebounceInterval = 20 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	cfg.Logger = logging.Discard()
	return cfg
}

// startDaemon runs a daemon in the background and stops it at test end.
func startDaemon(t *testing.T, r Reconciler, dir string, cfg *Config) *Daemon {
	t.Helper()
	d, err := NewWithConfig(r, dir, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Start returned %v", err)
		}
	})
	// Let the initial sync and watcher setup finish.
	time.Sleep(50 * time.Millisecond)
	return d
}

func writeCustomer(t *testing.T, dir, id, data string) {
	t.Helper()
	rec, err := record.Parse([]byte(data))
	if err != nil {
		t.Fatalf("bad fixture %s: %v", data, err)
	}
	if err := record.WriteFile(dir, id, rec); err != nil {
		t.Fatalf("failed to write customer %s: %v", id, err)
	}
}

func waitForEvents(t *testing.T, f *fakeReconciler, n int) []custsync.ChangeEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if evs := f.Events(); len(evs) >= n {
			return evs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(f.Events()))
	return nil
}

func TestNewWithConfig_Validation(t *testing.T) {
	if _, err := NewWithConfig(nil, "dir", nil); err == nil {
		t.Error("nil reconciler accepted")
	}
	if _, err := NewWithConfig(&fakeReconciler{}, "", nil); err == nil {
		t.Error("empty directory accepted")
	}
	cfg := testConfig("inotify")
	if _, err := NewWithConfig(&fakeReconciler{}, "dir", cfg); err == nil {
		t.Error("unknown watch mode accepted")
	}
}

func TestDaemon_InitialSyncSeedsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeCustomer(t, dir, "a", `{"name":"A"}`)
	writeCustomer(t, dir, "b", `{"name":"B"}`)

	f := &fakeReconciler{}
	d := startDaemon(t, f, dir, testConfig(WatchFSNotify))

	f.mu.Lock()
	synced := len(f.synced)
	f.mu.Unlock()
	if synced != 2 {
		t.Errorf("full sync saw %d records, want 2", synced)
	}
	if len(d.Snapshot()) != 2 {
		t.Errorf("snapshot has %d records, want 2", len(d.Snapshot()))
	}
}

func TestDaemon_ChangeEvents(t *testing.T) {
	for _, mode := range []string{WatchFSNotify, WatchPoll} {
		t.Run(mode, func(t *testing.T) {
			dir := t.TempDir()
			writeCustomer(t, dir, "cust-1", `{"name":"Old"}`)

			f := &fakeReconciler{}
			startDaemon(t, f, dir, testConfig(mode))

			writeCustomer(t, dir, "cust-42", `{"name":"Ann"}`)
			evs := waitForEvents(t, f, 1)
			if evs[0].CustomerID != "cust-42" || evs[0].BeforeExists() || evs[0].After == nil {
				t.Fatalf("create event = %+v", evs[0])
			}

			writeCustomer(t, dir, "cust-1", `{"name":"New"}`)
			evs = waitForEvents(t, f, 2)
			if evs[1].CustomerID != "cust-1" || !evs[1].BeforeExists() {
				t.Fatalf("update event = %+v", evs[1])
			}
			if name, _ := evs[1].Before.Get("name"); name != "Old" {
				t.Errorf("before name = %v, want Old", name)
			}

			if err := record.RemoveFile(dir, "cust-42"); err != nil {
				t.Fatal(err)
			}
			evs = waitForEvents(t, f, 3)
			if evs[2].CustomerID != "cust-42" || evs[2].After != nil || !evs[2].BeforeExists() {
				t.Fatalf("delete event = %+v", evs[2])
			}
		})
	}
}

func TestDaemon_DebounceCollapsesBurst(t *testing.T) {
	dir := t.TempDir()
	f := &fakeReconciler{}
	cfg := testConfig(WatchFSNotify)
	cfg.DebounceInterval = 100 * time.Millisecond
	startDaemon(t, f, dir, cfg)

	for i := 0; i < 5; i++ {
		writeCustomer(t, dir, "cust-42", `{"n":`+string(rune('0'+i))+`}`)
		time.Sleep(10 * time.Millisecond)
	}

	evs := waitForEvents(t, f, 1)
	time.Sleep(300 * time.Millisecond)
	if n := len(f.Events()); n != 1 {
		t.Errorf("expected 1 event after burst, got %d", n)
	}
	if v, _ := evs[0].After.Get("n"); v != 4.0 {
		t.Errorf("event carries n=%v, want last write 4", v)
	}
}

func TestDaemon_UnchangedFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeCustomer(t, dir, "a", `{"name":"A"}`)
	f := &fakeReconciler{}
	d := startDaemon(t, f, dir, testConfig(WatchFSNotify))

	d.processCustomer(context.Background(), "a")
	if n := len(f.Events()); n != 0 {
		t.Errorf("unchanged record produced %d events", n)
	}
}

func TestDaemon_RetriesRemoteFailures(t *testing.T) {
	dir := t.TempDir()
	f := &fakeReconciler{failures: 2}
	cfg := testConfig(WatchFSNotify)
	cfg.RetryAttempts = 3

	d, err := NewWithConfig(f, dir, cfg)
	if err != nil {
		t.Fatal(err)
	}
	writeCustomer(t, dir, "a", `{"name":"A"}`)
	d.processCustomer(context.Background(), "a")

	if n := len(f.Events()); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestDaemon_NoRetryByDefault(t *testing.T) {
	dir := t.TempDir()
	f := &fakeReconciler{failures: 1}
	d, err := NewWithConfig(f, dir, testConfig(WatchFSNotify))
	if err != nil {
		t.Fatal(err)
	}
	writeCustomer(t, dir, "a", `{"name":"A"}`)
	d.processCustomer(context.Background(), "a")

	if n := len(f.Events()); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
	if _, ok := d.Snapshot()["a"]; !ok {
		t.Error("snapshot should follow the store even when the pass fails")
	}
}

func TestDaemon_PendingAndQueueHook(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	cfg := testConfig(WatchFSNotify)
	cfg.DebounceInterval = time.Hour
	cfg.OnQueueChange = func(n int) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	}
	d, err := NewWithConfig(&fakeReconciler{}, t.TempDir(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	d.queueChange("a")
	d.queueChange("b")
	d.queueChange("a")

	if d.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", d.Pending())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[2] != 2 {
		t.Errorf("queue hook saw %v", seen)
	}
}
