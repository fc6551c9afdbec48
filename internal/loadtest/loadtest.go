// Package loadtest drives concurrent change events at a reconciler.
//
// Events are generated the way the source store's trigger produces them:
// each carries the before-state the store had when the change was made.
// The events are then delivered concurrently to a reconciler over an
// in-memory sheet with simulated latency. With per-customer serialization
// off, overlapping creates for one customer race their Find calls and
// append duplicate rows; DuplicateRows measures that.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/sheet"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// Options configures a load test run.
type Options struct {
	Customers   int           // distinct customer ids
	Events      int           // total change events
	Concurrency int           // events in flight at once
	Latency     time.Duration // simulated latency per row-store call
	Serialize   bool          // per-customer serialization in the reconciler
	DeleteRatio float64       // share of events that delete the customer
	Seed        uint64        // random seed (0 = time based)
}

// DefaultOptions returns a moderate run with serialization on.
func DefaultOptions() Options {
	return Options{
		Customers:   20,
		Events:      500,
		Concurrency: 32,
		Latency:     2 * time.Millisecond,
		Serialize:   true,
		DeleteRatio: 0.2,
	}
}

// LatencyStats captures per-pass latency.
type LatencyStats struct {
	Min         time.Duration
	Max         time.Duration
	Mean        time.Duration
	P50         time.Duration // Median
	P95         time.Duration
	P99         time.Duration
	TotalPasses int
	Errors      int
}

// Result summarizes a run.
type Result struct {
	Latency       *LatencyStats
	Rows          int // data rows left in the sheet
	DuplicateRows int // rows whose key already appeared above them
	RowStoreCalls int
	Elapsed       time.Duration
}

// Run executes a load test. It returns an error only for invalid options or
// a cancelled context; failed passes are counted in Latency.Errors.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Customers <= 0 || opts.Events <= 0 || opts.Concurrency <= 0 {
		return nil, fmt.Errorf("customers, events and concurrency must be positive")
	}
	if opts.DeleteRatio < 0 || opts.DeleteRatio > 1 {
		return nil, fmt.Errorf("delete ratio must be within [0, 1]")
	}

	layout := sheet.DefaultLayout()
	mem := sheet.NewMemory(layout, []string{"customerId", "name", "updatedAt", "plan"})
	mem.SetLatency(opts.Latency)

	rcOpts := custsync.DefaultOptions()
	rcOpts.SerializePerCustomer = opts.Serialize
	rcOpts.Logger = logging.Discard()
	reconciler, err := custsync.New(mem, layout, rcOpts)
	if err != nil {
		return nil, err
	}

	events := generateEvents(opts)

	var (
		mu        sync.Mutex
		durations = make([]time.Duration, 0, len(events))
		errCount  int
	)
	reconciler.AddListener(custsync.ListenerFunc(func(p custsync.Pass) {
		mu.Lock()
		defer mu.Unlock()
		durations = append(durations, p.Duration)
		if p.Err != nil {
			errCount++
		}
	}))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, ev := range events {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Pass failures are recorded by the listener.
			_ = reconciler.OnCustomerChange(gctx, ev)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load test interrupted: %w", err)
	}

	rows := mem.Rows()
	stats := computeLatencyStats(durations)
	stats.Errors = errCount
	return &Result{
		Latency:       stats,
		Rows:          len(rows) - 1,
		DuplicateRows: countDuplicates(rows[1:]),
		RowStoreCalls: len(mem.Calls()),
		Elapsed:       time.Since(start),
	}, nil
}

// generateEvents builds the event sequence. The before-state of each event
// is the state left by the previous event for the same customer.
func generateEvents(opts Options) []custsync.ChangeEvent {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	ids := make([]string, opts.Customers)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	plans := []string{"free", "pro", "team", "enterprise"}
	state := make(map[string]*record.Record, len(ids))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	events := make([]custsync.ChangeEvent, 0, opts.Events)
	for i := 0; i < opts.Events; i++ {
		id := ids[rng.IntN(len(ids))]
		ev := custsync.ChangeEvent{CustomerID: id, Before: state[id]}

		if ev.Before != nil && rng.Float64() < opts.DeleteRatio {
			delete(state, id)
		} else {
			ev.After = record.FromFields(
				record.Field{Name: "name", Value: fmt.Sprintf("Customer %d", i)},
				record.Field{Name: "updatedAt", Value: record.Timestamp{Seconds: float64(base + int64(i)), Nanoseconds: 0}},
				record.Field{Name: "plan", Value: plans[rng.IntN(len(plans))]},
			)
			state[id] = ev.After
		}
		events = append(events, ev)
	}
	return events
}

func countDuplicates(rows [][]any) int {
	seen := make(map[string]bool, len(rows))
	dups := 0
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		key := record.CellString(row[0])
		if seen[key] {
			dups++
		}
		seen[key] = true
	}
	return dups
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Mean:        sum / time.Duration(len(sorted)),
		P50:         sorted[len(sorted)*50/100],
		P95:         sorted[len(sorted)*95/100],
		P99:         sorted[len(sorted)*99/100],
		TotalPasses: len(sorted),
	}
}

// Print writes the latency statistics in a fixed layout.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Passes:  %d\n", s.TotalPasses)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
