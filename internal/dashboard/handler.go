package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sheetsync/custsync/internal/logging"
	custsync "github.com/sheetsync/custsync/internal/sync"
)

// RowUpdateData describes one completed pass.
type RowUpdateData struct {
	CustomerID string `json:"customer_id"`
	Action     string `json:"action"` // appended, updated, deleted, skipped
	Row        int    `json:"row,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// SyncFailedData describes a failed pass.
type SyncFailedData struct {
	CustomerID string `json:"customer_id"`
	Op         string `json:"op"`
	Error      string `json:"error"`
}

// SyncCompleteData summarizes a full sync.
type SyncCompleteData struct {
	Total    int           `json:"total"`
	Appended int           `json:"appended"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// StatsData holds the running pass counters.
type StatsData struct {
	Passes   int `json:"passes"`
	Appended int `json:"appended"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Handler turns reconciliation passes into dashboard messages. It
// implements sync.Listener.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a handler connected to a dashboard server. New
// clients receive the current stats as their first message.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = logging.Component(nil, "dashboard")
	}
	h := &Handler{server: server, logger: logger}
	server.welcome = h.statsMessage
	return h
}

var actions = map[custsync.OpKind]string{
	custsync.OpNoop:      "skipped",
	custsync.OpAppend:    "appended",
	custsync.OpOverwrite: "updated",
	custsync.OpDelete:    "deleted",
}

// OnPass implements sync.Listener.
func (h *Handler) OnPass(p custsync.Pass) {
	h.mu.Lock()
	h.stats.Passes++
	if p.Err != nil {
		h.stats.Failed++
	} else {
		switch p.Operation.Kind {
		case custsync.OpAppend:
			h.stats.Appended++
		case custsync.OpOverwrite:
			h.stats.Updated++
		case custsync.OpDelete:
			h.stats.Deleted++
		default:
			h.stats.Skipped++
		}
	}
	h.mu.Unlock()

	if p.Err != nil {
		h.send(MessageTypeSyncFailed, SyncFailedData{
			CustomerID: p.Event.CustomerID,
			Op:         p.Operation.Kind.String(),
			Error:      p.Err.Error(),
		})
	} else {
		h.send(MessageTypeRowUpdate, RowUpdateData{
			CustomerID: p.Event.CustomerID,
			Action:     actions[p.Operation.Kind],
			Row:        p.Operation.Row,
			DurationMS: p.Duration.Milliseconds(),
		})
	}
	h.server.Broadcast(h.statsMessage())
}

// OnSyncComplete broadcasts the result of a full sync.
func (h *Handler) OnSyncComplete(stats custsync.SyncStats) {
	h.logger.Info("full sync complete", "total", stats.Total, "failed", stats.Failed, "duration", stats.Duration)
	h.send(MessageTypeSyncComplete, SyncCompleteData{
		Total:    stats.Total,
		Appended: stats.Appended,
		Updated:  stats.Updated,
		Failed:   stats.Failed,
		Duration: stats.Duration,
	})
}

// Stats returns a copy of the current counters.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statsMessage() Message {
	stats := h.Stats()
	data, _ := json.Marshal(stats)
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal message data", "type", typ, "err", err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
