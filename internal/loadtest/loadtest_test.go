package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestRun_SerializedHasNoDuplicates(t *testing.T) {
	opts := DefaultOptions()
	opts.Customers = 5
	opts.Events = 200
	opts.Latency = time.Millisecond
	opts.Seed = 42

	result, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.DuplicateRows != 0 {
		t.Errorf("DuplicateRows = %d, want 0 with serialization", result.DuplicateRows)
	}
	if result.Latency.TotalPasses != 200 {
		t.Errorf("TotalPasses = %d, want 200", result.Latency.TotalPasses)
	}
	if result.Latency.Errors != 0 {
		t.Errorf("Errors = %d", result.Latency.Errors)
	}
	if result.Rows > opts.Customers {
		t.Errorf("Rows = %d, more than %d customers", result.Rows, opts.Customers)
	}
}

func TestRun_UnserializedCreatesRace(t *testing.T) {
	// One customer, no deletes, every event in flight at once: every Find
	// sees the empty sheet before any append lands.
	result, err := Run(context.Background(), Options{
		Customers:   1,
		Events:      16,
		Concurrency: 16,
		Latency:     20 * time.Millisecond,
		Serialize:   false,
		Seed:        7,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.DuplicateRows == 0 {
		t.Error("expected duplicate rows without serialization")
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Error("zero options accepted")
	}
	opts := DefaultOptions()
	opts.DeleteRatio = 2
	if _, err := Run(context.Background(), opts); err == nil {
		t.Error("delete ratio above 1 accepted")
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, DefaultOptions()); err == nil {
		t.Error("cancelled run should fail")
	}
}

func TestGenerateEvents_BeforeFollowsPreviousAfter(t *testing.T) {
	opts := DefaultOptions()
	opts.Customers = 3
	opts.Events = 100
	opts.Seed = 1
	events := generateEvents(opts)

	last := map[string]bool{}
	for i, ev := range events {
		if ev.BeforeExists() != last[ev.CustomerID] {
			t.Fatalf("event %d: before exists = %v, previous state = %v", i, ev.BeforeExists(), last[ev.CustomerID])
		}
		last[ev.CustomerID] = ev.After != nil
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}
	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond || stats.P99 != 100*time.Millisecond {
		t.Errorf("p50/p99 = %v/%v", stats.P50, stats.P99)
	}

	var buf bytes.Buffer
	stats.Print(&buf)
	if !strings.Contains(buf.String(), "Total Passes:  100") {
		t.Errorf("Print output:\n%s", buf.String())
	}

	if empty := computeLatencyStats(nil); empty.TotalPasses != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}
