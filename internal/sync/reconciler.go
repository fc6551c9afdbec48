package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/sheet"
)

var (
	// ErrHeaderMismatch is returned by Check when the sheet header does not
	// match the declared columns.
	ErrHeaderMismatch = errors.New("sheet header does not match declared columns")

	// ErrInvalidCustomerID is returned for empty or malformed customer ids.
	ErrInvalidCustomerID = errors.New("invalid customer id")
)

// Options configures a Reconciler.
type Options struct {
	// Columns is the declared column contract. Empty means each record's
	// own field order.
	Columns record.Columns

	// KeyHeader is the header of the key column, checked by Check.
	KeyHeader string

	// SerializePerCustomer holds a per-customer lock around find-then-write.
	SerializePerCustomer bool

	Listeners []Listener
	Logger    *log.Logger
}

// DefaultOptions returns options with per-customer serialization on.
func DefaultOptions() *Options {
	return &Options{
		KeyHeader:            record.DefaultKeyHeader,
		SerializePerCustomer: true,
	}
}

// Reconciler applies change events to a row-store.
// It is safe for concurrent use.
type Reconciler struct {
	store     sheet.Store
	layout    sheet.Layout
	columns   record.Columns
	keyHeader string
	locks     *keyedMutex // nil when serialization is off
	logger    *log.Logger

	mu        stdsync.RWMutex
	listeners []Listener
}

// New creates a Reconciler over store. A nil opts uses DefaultOptions.
//
// The column contract is checked against the layout here, so a contract
// wider than the sheet span fails at startup instead of on the first write.
func New(store sheet.Store, layout sheet.Layout, opts *Options) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("row-store is required")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sheet layout: %w", err)
	}
	if err := opts.Columns.Validate(); err != nil {
		return nil, fmt.Errorf("invalid columns: %w", err)
	}
	if len(opts.Columns)+1 > layout.Width() {
		return nil, fmt.Errorf("%w: %d columns plus key do not fit %s..%s",
			sheet.ErrRowTooWide, len(opts.Columns), layout.KeyColumn, layout.LastColumn)
	}

	keyHeader := opts.KeyHeader
	if keyHeader == "" {
		keyHeader = record.DefaultKeyHeader
	}

	r := &Reconciler{
		store:     store,
		layout:    layout,
		columns:   slices.Clone(opts.Columns),
		keyHeader: keyHeader,
		logger:    opts.Logger,
		listeners: slices.Clone(opts.Listeners),
	}
	if r.logger == nil {
		r.logger = logging.Component(nil, "sync")
	}
	if opts.SerializePerCustomer {
		r.locks = newKeyedMutex()
	}
	return r, nil
}

// Store returns the row-store the reconciler writes to.
func (r *Reconciler) Store() sheet.Store {
	return r.store
}

// Columns returns the declared column contract.
func (r *Reconciler) Columns() record.Columns {
	return slices.Clone(r.columns)
}

// Serialized reports whether passes are serialized per customer.
func (r *Reconciler) Serialized() bool {
	return r.locks != nil
}

// AddListener registers l for every subsequent pass.
func (r *Reconciler) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Check validates the column contract against the sheet header. It is a
// no-op when no columns are declared or the store cannot read its header.
func (r *Reconciler) Check(ctx context.Context) error {
	if !r.columns.Declared() {
		return nil
	}
	hr, ok := r.store.(sheet.HeaderReader)
	if !ok {
		return nil
	}
	got, err := hr.Header(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sheet header: %w", err)
	}
	got = trimEmpty(got)
	want := r.columns.Header(r.keyHeader)
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: sheet has %q, expected %q", ErrHeaderMismatch, got, want)
	}
	return nil
}

// OnCustomerChange is the single entry point for change events. It runs one
// reconciliation pass, reports it to listeners and returns its error
// unchanged. It never retries.
func (r *Reconciler) OnCustomerChange(ctx context.Context, ev ChangeEvent) error {
	_, err := r.handle(ctx, ev)
	return err
}

func (r *Reconciler) handle(ctx context.Context, ev ChangeEvent) (Operation, error) {
	started := time.Now()

	var (
		op  Operation
		err error
	)
	if verr := record.ValidateID(ev.CustomerID); verr != nil {
		err = fmt.Errorf("%w: %q", ErrInvalidCustomerID, ev.CustomerID)
	} else {
		op, err = r.Reconcile(ctx, ev.CustomerID, ev.BeforeExists(), ev.After)
	}

	pass := Pass{
		Event:     ev,
		Operation: op,
		Err:       err,
		Started:   started,
		Duration:  time.Since(started),
	}
	if err != nil {
		r.logger.Error("reconciliation failed", "customer", ev.CustomerID, "op", op.Kind, "err", err)
	} else {
		r.logger.Debug("reconciled", "customer", ev.CustomerID, "op", op.Kind, "row", op.Row)
	}
	r.notify(pass)
	return op, err
}

// Reconcile runs one pass for customerID. after is nil when the record no
// longer exists.
func (r *Reconciler) Reconcile(ctx context.Context, customerID string, beforeExists bool, after *record.Record) (Operation, error) {
	if after == nil && !beforeExists {
		return Operation{Kind: OpNoop}, nil
	}

	// Build the row before locking or reading so a bad record causes no
	// remote call at all.
	var row []any
	if after != nil {
		normalized, err := record.Normalize(after)
		if err != nil {
			return Operation{Kind: OpNoop}, fmt.Errorf("failed to normalize customer %s: %w", customerID, err)
		}
		if extra := r.columns.Extra(normalized); len(extra) > 0 {
			r.logger.Warn("fields outside the column contract dropped", "customer", customerID, "fields", extra)
		}
		row = r.columns.Row(customerID, normalized)
		if len(row) > r.layout.Width() {
			return Operation{Kind: OpNoop}, fmt.Errorf("%w: customer %s has %d cells, span holds %d",
				sheet.ErrRowTooWide, customerID, len(row), r.layout.Width())
		}
	}

	if r.locks != nil {
		unlock, err := r.locks.Lock(ctx, customerID)
		if err != nil {
			return Operation{Kind: OpNoop}, err
		}
		defer unlock()
	}

	keys, err := r.store.Find(ctx)
	if err != nil {
		return Operation{Kind: OpNoop}, fmt.Errorf("failed to scan key column: %w", err)
	}
	match := ScanKeys(keys, customerID)

	if after == nil {
		if match == 0 {
			return Operation{Kind: OpNoop}, nil
		}
		op := Operation{Kind: OpDelete, Row: match}
		if err := r.store.DeleteRows(ctx, match, match); err != nil {
			return op, fmt.Errorf("failed to delete row %d: %w", match, err)
		}
		return op, nil
	}

	if match == 0 {
		op := Operation{Kind: OpAppend}
		if err := r.store.Append(ctx, row); err != nil {
			return op, fmt.Errorf("failed to append row: %w", err)
		}
		return op, nil
	}

	op := Operation{Kind: OpOverwrite, Row: match}
	if err := r.store.Overwrite(ctx, match, row); err != nil {
		return op, fmt.Errorf("failed to overwrite row %d: %w", match, err)
	}
	return op, nil
}

// ScanKeys returns the 1-based index of the first row after the header whose
// key equals customerID, or 0 when there is none. keys[0] is the header row
// and is never matched, since row 1 is never a write target.
func ScanKeys(keys []string, customerID string) int {
	for i := 1; i < len(keys); i++ {
		if keys[i] == customerID {
			return i + 1
		}
	}
	return 0
}

func (r *Reconciler) notify(p Pass) {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, l := range listeners {
		l.OnPass(p)
	}
}

// SyncStats summarizes a FullSync.
type SyncStats struct {
	Total     int
	Appended  int
	Updated   int
	Failed    int
	Duration  time.Duration
	FailedIDs []string
}

// FullSync upserts every record, at most workers passes at a time.
//
// Individual failures are logged and counted but do not stop the sync. An
// error is returned only when ctx is cancelled.
func (r *Reconciler) FullSync(ctx context.Context, records map[string]*record.Record, workers int) (SyncStats, error) {
	if workers < 1 {
		workers = 1
	}
	started := time.Now()
	r.logger.Info("starting full sync", "customers", len(records), "workers", workers)

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		mu    stdsync.Mutex
		stats = SyncStats{Total: len(ids)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			op, err := r.handle(gctx, ChangeEvent{CustomerID: id, After: records[id]})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				stats.FailedIDs = append(stats.FailedIDs, id)
			case op.Kind == OpAppend:
				stats.Appended++
			case op.Kind == OpOverwrite:
				stats.Updated++
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(started)
	sort.Strings(stats.FailedIDs)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("full sync interrupted: %w", err)
	}

	r.logger.Info("full sync complete",
		"appended", stats.Appended, "updated", stats.Updated, "failed", stats.Failed,
		"duration", stats.Duration.Round(time.Millisecond))
	return stats, nil
}

func trimEmpty(cells []string) []string {
	end := len(cells)
	for end > 0 && cells[end-1] == "" {
		end--
	}
	return cells[:end]
}
