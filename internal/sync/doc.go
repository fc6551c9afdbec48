// Package sync mirrors customer records into spreadsheet rows.
//
// Overview
//
// Every create, update or delete of a customer record arrives as one
// ChangeEvent. The Reconciler turns that event into at most one row
// operation against a sheet.Store whose rows are not indexed by customer id:
//
//	ChangeEvent{id, before, after}
//	      ↓
//	  Normalize(after)            timestamps → ISO-8601 strings
//	      ↓
//	  Find()                      read the key column
//	      ↓
//	  first row with key == id    header row skipped
//	      ↓
//	  Append | Overwrite | DeleteRows | no-op
//
// Decision table:
//
//	after present, no matching row   → Append([id, values...])
//	after present, matching row r    → Overwrite(r, [id, values...] padded)
//	after absent, before existed, r  → DeleteRows(r, r)
//	after absent, no matching row    → no-op
//	after absent, before absent      → no-op, no remote call
//
// Usage
//
//	store, err := sheet.Open(ctx, sheet.Options{Backend: sheet.BackendXLSX, ...})
//	if err != nil {
//	    return err
//	}
//	rec, err := sync.New(store, layout, nil)
//	if err != nil {
//	    return err
//	}
//	err = rec.OnCustomerChange(ctx, sync.ChangeEvent{CustomerID: "cust-42", After: after})
//
// Concurrency
//
// The find-then-write sequence is not atomic on the row-store. With
// SerializePerCustomer on (the default) passes for the same customer id hold
// a keyed lock, so two concurrent creates cannot both append. Passes for
// different ids run in parallel.
//
// Error Handling
//
// OnCustomerChange returns failures unchanged and never retries: a failed
// pass leaves the sheet as it was before the pass, or with the single write
// it completed. Retry policy belongs to the host (see internal/daemon).
// Duplicate rows for one id are never cleaned up; only the first match is
// touched.
package sync
