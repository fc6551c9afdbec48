package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sheetsync/custsync/internal/journal"
	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/sheet"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// syncRuntime is the wiring shared by commands that reconcile: one store,
// one reconciler and the optional journal listening to it.
type syncRuntime struct {
	store      sheet.Store
	reconciler *custsync.Reconciler
	journal    *journal.Journal
}

// newSyncRuntime opens the configured store and journal and checks the
// sheet header against the declared columns.
func newSyncRuntime(ctx context.Context, listeners ...custsync.Listener) (*syncRuntime, error) {
	store, err := sheet.Open(ctx, cfg.SheetOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open sheet: %w", err)
	}
	rt := &syncRuntime{store: store}

	if cfg.Journal.Path != "" {
		j, err := openJournal(ctx)
		if err != nil {
			return nil, err
		}
		rt.journal = j
		listeners = append(listeners, j)
	}

	opts := cfg.SyncOptions()
	opts.Logger = logging.Component(logger, "sync")
	opts.Listeners = listeners
	rt.reconciler, err = custsync.New(store, cfg.Layout(), opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.reconciler.Check(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close releases the journal.
func (rt *syncRuntime) Close() {
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			logger.Warn("failed to close journal", "err", err)
		}
	}
}

// openJournal opens the configured journal and creates its schema.
func openJournal(ctx context.Context) (*journal.Journal, error) {
	if cfg.Journal.Path == "" {
		return nil, journal.ErrDisabled
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	j.SetLogger(logging.Component(logger, "journal"))
	if err := j.InitSchemaContext(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// errFailed reports that some passes failed after their errors were shown.
var errFailed = errors.New("some customers failed to sync")
