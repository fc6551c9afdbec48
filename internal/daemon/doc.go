// Package daemon hosts the reconciler: it watches the customer store
// directory and turns file changes into change events.
//
// The store is a directory of <customerId>.json files, one customer record
// each. The daemon:
//
//   - performs a full sync on startup and seeds its before-state snapshot
//   - watches the directory with fsnotify, or polls it where file system
//     events are unreliable
//   - debounces changes per customer, so bursts of writes to one file
//     produce one pass
//   - builds ChangeEvent{before, after} from the snapshot and the file
//   - reconciles due customers concurrently, bounded by Workers
//
// # File Watching
//
//	fw, err := daemon.NewFileWatcher()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fw.Stop()
//
//	if err := fw.Start("/srv/customers"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range fw.Events() {
//	    fmt.Printf("%s %s\n", event.Op, event.CustomerID)
//	}
//
// fsnotify operations map as follows:
//   - fsnotify.Create → OpCreate
//   - fsnotify.Write → OpModify
//   - fsnotify.Remove → OpDelete
//   - fsnotify.Rename → OpDelete (the new name triggers a separate Create)
//
// Hidden files, such as the temp files of atomic writes, are ignored.
//
// # Polling
//
// Poll compares (size, mtime) scans of the directory at an interval and
// reports the same FileEvents. Select it with WatchMode "poll".
//
// # Failure Semantics
//
// A failed pass is logged and the event is dropped; the sheet keeps whatever
// state the pass left. With RetryAttempts > 0, passes failing with a
// sheet.RemoteError are retried with exponential backoff. Malformed records
// and contract violations are never retried.
package daemon
