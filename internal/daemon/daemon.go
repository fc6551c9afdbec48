package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/sheet"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// Watch modes.
const (
	WatchFSNotify = "fsnotify"
	WatchPoll     = "poll"
)

// Reconciler is the part of sync.Reconciler the daemon drives.
type Reconciler interface {
	OnCustomerChange(ctx context.Context, ev custsync.ChangeEvent) error
	FullSync(ctx context.Context, records map[string]*record.Record, workers int) (custsync.SyncStats, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a customer must be quiet before its
	// change is reconciled. Rapid writes to one file collapse into one pass.
	DebounceInterval time.Duration

	// WatchMode is "fsnotify" or "poll".
	WatchMode string

	// PollInterval is the scan interval in poll mode.
	PollInterval time.Duration

	// Workers bounds concurrent passes for different customers.
	Workers int

	// RetryAttempts is how many times a pass failing with a remote error is
	// retried. Zero drops the event after the first failure.
	RetryAttempts uint64

	// RetryBackoff is the base of the exponential retry backoff.
	RetryBackoff time.Duration

	// SkipInitialSync disables the full sync on Start.
	SkipInitialSync bool

	// OnQueueChange, if set, receives the pending queue length whenever it
	// changes.
	OnQueueChange func(pending int)

	// OnFullSync, if set, receives the result of every full sync.
	OnFullSync func(stats custsync.SyncStats)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		WatchMode:        WatchFSNotify,
		PollInterval:     500 * time.Millisecond,
		Workers:          4,
		RetryBackoff:     200 * time.Millisecond,
		Logger:           logging.Component(nil, "daemon"),
	}
}

// Daemon turns changes in the customer store directory into change events.
//
// It keeps the last seen version of every customer record in memory; that
// snapshot supplies the "before" half of each event.
type Daemon struct {
	reconciler Reconciler
	dir        string
	config     *Config

	changeQueue   map[string]time.Time // customer id -> last event
	changeQueueMu sync.Mutex

	snapshot   map[string]*record.Record
	snapshotMu sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *FileWatcher
	stopped sync.Once
}

// New creates a daemon with default configuration.
func New(r Reconciler, dir string) (*Daemon, error) {
	return NewWithConfig(r, dir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(r Reconciler, dir string, config *Config) (*Daemon, error) {
	if r == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logging.Component(nil, "daemon")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	switch config.WatchMode {
	case "":
		config.WatchMode = WatchFSNotify
	case WatchFSNotify, WatchPoll:
	default:
		return nil, fmt.Errorf("unknown watch mode %q", config.WatchMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		reconciler:  r,
		dir:         dir,
		config:      config,
		changeQueue: make(map[string]time.Time),
		snapshot:    make(map[string]*record.Record),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled or Stop is called.
//
// The daemon will:
// 1. Read the store directory and perform a full sync
// 2. Seed the before-state snapshot
// 3. Start watching (fsnotify or polling)
// 4. Reconcile debounced changes per customer
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Info("starting daemon", "dir", d.dir, "mode", d.config.WatchMode)

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	if err := d.PerformFullSync(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	events := make(chan FileEvent, 100)
	switch d.config.WatchMode {
	case WatchPoll:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			_ = Poll(d.ctx, PollConfig{Dir: d.dir, Interval: d.config.PollInterval}, func(batch []FileEvent) error {
				for _, ev := range batch {
					select {
					case events <- ev:
					case <-d.ctx.Done():
						return d.ctx.Err()
					}
				}
				return nil
			})
		}()
	default:
		fw, err := NewFileWatcher()
		if err != nil {
			return err
		}
		if err := fw.Start(d.dir); err != nil {
			_ = fw.Stop()
			return err
		}
		d.watcher = fw
		d.wg.Add(1)
		go d.forwardWatcher(fw, events)
	}

	d.config.Logger.Info("watching", "dir", d.dir)

	d.wg.Add(2)
	go d.watchFileEvents(events)
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts down the daemon. In-flight passes see a cancelled context and
// Stop waits for them to return.
func (d *Daemon) Stop() error {
	var err error
	d.stopped.Do(func() {
		d.config.Logger.Info("stopping daemon")
		d.cancel()
		if d.watcher != nil {
			if werr := d.watcher.Stop(); werr != nil {
				d.config.Logger.Warn("error closing watcher", "err", werr)
				err = werr
			}
		}
		d.wg.Wait()
		d.config.Logger.Info("daemon stopped")
	})
	return err
}

// PerformFullSync reads every customer file, upserts it and replaces the
// snapshot. Unreadable files are logged and skipped.
func (d *Daemon) PerformFullSync(ctx context.Context) error {
	records, skipped, err := record.ReadDir(d.dir)
	if err != nil {
		return err
	}
	for _, serr := range skipped {
		d.config.Logger.Warn("skipping customer file", "err", serr)
	}

	if !d.config.SkipInitialSync {
		stats, err := d.reconciler.FullSync(ctx, records, d.config.Workers)
		if err != nil {
			return err
		}
		if d.config.OnFullSync != nil {
			d.config.OnFullSync(stats)
		}
	}

	d.snapshotMu.Lock()
	d.snapshot = records
	d.snapshotMu.Unlock()
	return nil
}

// Snapshot returns a copy of the before-state cache.
func (d *Daemon) Snapshot() map[string]*record.Record {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()
	out := make(map[string]*record.Record, len(d.snapshot))
	for id, rec := range d.snapshot {
		out[id] = rec.Clone()
	}
	return out
}

// Pending returns the number of customers waiting to be reconciled.
func (d *Daemon) Pending() int {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	return len(d.changeQueue)
}

func (d *Daemon) forwardWatcher(fw *FileWatcher, out chan<- FileEvent) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev, ok := <-fw.Events():
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-d.ctx.Done():
				return
			}
		case err, ok := <-fw.Errors():
			if !ok {
				return
			}
			d.config.Logger.Warn("watcher error", "err", err)
		}
	}
}

// watchFileEvents queues changes from the active watcher.
func (d *Daemon) watchFileEvents(events <-chan FileEvent) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-events:
			d.config.Logger.Debug("file event", "op", ev.Op, "customer", ev.CustomerID)
			d.queueChange(ev.CustomerID)
		}
	}
}

// queueChange records a change for id, restarting its debounce window.
func (d *Daemon) queueChange(id string) {
	d.changeQueueMu.Lock()
	d.changeQueue[id] = time.Now()
	n := len(d.changeQueue)
	d.changeQueueMu.Unlock()
	d.reportQueue(n)
}

func (d *Daemon) reportQueue(n int) {
	if d.config.OnQueueChange != nil {
		d.config.OnQueueChange(n)
	}
}

// processChangeQueue drains the change queue on every debounce tick.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges(d.ctx)
		}
	}
}

// processPendingChanges reconciles every customer that has been quiet for a
// full debounce interval, up to Workers at a time.
func (d *Daemon) processPendingChanges(ctx context.Context) {
	now := time.Now()

	d.changeQueueMu.Lock()
	var due []string
	for id, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		due = append(due, id)
		delete(d.changeQueue, id)
	}
	remaining := len(d.changeQueue)
	d.changeQueueMu.Unlock()

	if len(due) == 0 {
		return
	}
	d.reportQueue(remaining)
	sort.Strings(due)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Workers)
	for _, id := range due {
		g.Go(func() error {
			d.processCustomer(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// processCustomer builds the change event for id from the snapshot and the
// file on disk, and reconciles it.
func (d *Daemon) processCustomer(ctx context.Context, id string) {
	after, err := record.ReadFile(record.Path(d.dir, id))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		after = nil
	default:
		d.config.Logger.Warn("skipping unreadable customer file", "customer", id, "err", err)
		return
	}

	d.snapshotMu.RLock()
	before := d.snapshot[id]
	d.snapshotMu.RUnlock()

	if before == nil && after == nil {
		return
	}
	if before != nil && after != nil && before.Equal(after) {
		d.config.Logger.Debug("customer unchanged", "customer", id)
		return
	}

	// The snapshot tracks the store, not the sheet, so it advances even
	// when the pass fails.
	d.snapshotMu.Lock()
	if after == nil {
		delete(d.snapshot, id)
	} else {
		d.snapshot[id] = after
	}
	d.snapshotMu.Unlock()

	ev := custsync.ChangeEvent{CustomerID: id, Before: before, After: after}
	if err := d.apply(ctx, ev); err != nil {
		d.config.Logger.Error("change dropped", "customer", id, "err", err)
	}
}

// apply delivers ev, retrying remote failures when configured.
func (d *Daemon) apply(ctx context.Context, ev custsync.ChangeEvent) error {
	if d.config.RetryAttempts == 0 {
		return d.reconciler.OnCustomerChange(ctx, ev)
	}

	base := d.config.RetryBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(d.config.RetryAttempts, retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := d.reconciler.OnCustomerChange(ctx, ev)
		if sheet.IsRemote(err) {
			d.config.Logger.Warn("retrying after remote failure", "customer", ev.CustomerID, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
}
