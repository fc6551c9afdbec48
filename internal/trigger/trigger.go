// Package trigger exposes change events over HTTP.
//
//	POST /v1/customers/{customerId}/change
//	{"before": {...} | null, "after": {...} | null}
//
// A missing or null "before" means the record did not exist; a missing or
// null "after" means it was deleted. Field order inside the objects is kept.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/sheetsync/custsync/internal/logging"
	"github.com/sheetsync/custsync/internal/record"
	"github.com/sheetsync/custsync/internal/sheet"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// Route is the pattern the handler serves.
const Route = "POST /v1/customers/{customerId}/change"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ChangeFunc receives decoded change events, normally
// (*sync.Reconciler).OnCustomerChange.
type ChangeFunc func(ctx context.Context, ev custsync.ChangeEvent) error

// Handler returns an http.Handler serving Route.
func Handler(fn ChangeFunc, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = logging.Component(nil, "trigger")
	}
	h := &handler{fn: fn, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc(Route, h.serveChange)
	return mux
}

type handler struct {
	fn     ChangeFunc
	logger *log.Logger
}

func (h *handler) serveChange(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("customerId")
	if err := record.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	ev, err := DecodeEvent(id, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.fn(r.Context(), ev); err != nil {
		status := StatusFor(err)
		h.logger.Warn("change rejected", "customer", id, "status", status, "err", err)
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errBadEvent is returned for bodies that are not a change event.
var errBadEvent = errors.New(`body must be {"before": object|null, "after": object|null}`)

// DecodeEvent parses a change event body for customer id.
func DecodeEvent(id string, body []byte) (custsync.ChangeEvent, error) {
	ev := custsync.ChangeEvent{CustomerID: id}
	if len(body) == 0 {
		return ev, errBadEvent
	}
	if !gjson.ValidBytes(body) {
		return ev, record.ErrInvalidJSON
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return ev, errBadEvent
	}

	var err error
	if ev.Before, err = side(root.Get("before")); err != nil {
		return ev, err
	}
	if ev.After, err = side(root.Get("after")); err != nil {
		return ev, err
	}
	return ev, nil
}

func side(res gjson.Result) (*record.Record, error) {
	switch {
	case !res.Exists() || res.Type == gjson.Null:
		return nil, nil
	case res.IsObject():
		return record.FromResult(res), nil
	default:
		return nil, errBadEvent
	}
}

// StatusFor maps a reconciliation error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusNoContent
	case errors.Is(err, custsync.ErrInvalidCustomerID):
		return http.StatusBadRequest
	case errors.Is(err, record.ErrMalformedTimestamp),
		errors.Is(err, sheet.ErrRowTooWide):
		return http.StatusUnprocessableEntity
	case sheet.IsRemote(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
