package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sheetsync/custsync/internal/record"
)

// PollConfig configures the polling watcher.
type PollConfig struct {
	// Dir is the customer store directory.
	Dir string

	// Interval is how often the directory is scanned (default: 500ms).
	Interval time.Duration
}

// PollCallback receives the changes found by one scan, ordered by path.
// Errors are reported by Poll's caller; polling continues.
type PollCallback func(events []FileEvent) error

type fileState struct {
	size    int64
	modTime time.Time
}

// Poll scans cfg.Dir at the configured interval and reports created,
// modified and deleted customer files. Files present at the first scan are
// not reported. It is the fallback for file systems where fsnotify does not
// deliver events (network mounts, some containers).
//
// Poll blocks until ctx is cancelled and returns ctx.Err().
func Poll(ctx context.Context, cfg PollConfig, callback PollCallback) error {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}

	prev, err := scanDir(cfg.Dir)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			next, err := scanDir(cfg.Dir)
			if err != nil {
				// Transient, e.g. the directory is being replaced.
				continue
			}
			events := diffSnapshots(cfg.Dir, prev, next)
			prev = next
			if len(events) == 0 {
				continue
			}
			_ = callback(events)
		}
	}
}

// scanDir returns size and mtime for every customer file in dir. A missing
// directory is an empty snapshot.
func scanDir(dir string) (map[string]fileState, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]fileState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	snap := make(map[string]fileState, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := record.IDFromPath(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snap[id] = fileState{size: info.Size(), modTime: info.ModTime()}
	}
	return snap, nil
}

// diffSnapshots compares two scans keyed by customer id.
func diffSnapshots(dir string, prev, next map[string]fileState) []FileEvent {
	var events []FileEvent
	for id, st := range next {
		old, ok := prev[id]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: filepath.Join(dir, record.Filename(id)), CustomerID: id, Op: OpCreate})
		case old.size != st.size || !old.modTime.Equal(st.modTime):
			events = append(events, FileEvent{Path: filepath.Join(dir, record.Filename(id)), CustomerID: id, Op: OpModify})
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			events = append(events, FileEvent{Path: filepath.Join(dir, record.Filename(id)), CustomerID: id, Op: OpDelete})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Path < events[j].Path
	})
	return events
}
