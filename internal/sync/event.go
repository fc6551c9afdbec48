package sync

import (
	"fmt"
	"time"

	"github.com/sheetsync/custsync/internal/record"
)

// ChangeEvent is one create, update or delete of a customer record. A nil
// Before means the record did not exist; a nil After means it was deleted.
type ChangeEvent struct {
	CustomerID string
	Before     *record.Record
	After      *record.Record
}

// BeforeExists reports whether the record existed before the change.
func (e ChangeEvent) BeforeExists() bool {
	return e.Before != nil
}

// OpKind is the row operation a pass performed.
type OpKind int

const (
	OpNoop OpKind = iota
	OpAppend
	OpOverwrite
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpNoop:
		return "noop"
	case OpAppend:
		return "append"
	case OpOverwrite:
		return "overwrite"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operation describes the outcome of a pass. Row is the 1-based row that was
// overwritten or deleted, 0 otherwise.
type Operation struct {
	Kind OpKind
	Row  int
}

// Pass is reported to listeners after every OnCustomerChange call.
type Pass struct {
	Event     ChangeEvent
	Operation Operation
	Err       error
	Started   time.Time
	Duration  time.Duration
}

// Status is "ok" or "failed".
func (p Pass) Status() string {
	if p.Err != nil {
		return "failed"
	}
	return "ok"
}

// Listener observes reconciliation passes. OnPass runs on the caller's
// goroutine and must not block.
type Listener interface {
	OnPass(p Pass)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(p Pass)

// OnPass implements Listener.
func (f ListenerFunc) OnPass(p Pass) { f(p) }
