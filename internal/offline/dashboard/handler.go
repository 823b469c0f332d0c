package dashboard

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
	offsync "github.com/lunaria-app/lunaria/internal/offline/sync"
)

// RecordChangeData describes a local write.
type RecordChangeData struct {
	Table    string          `json:"table"`
	RecordID string          `json:"record_id"`
	Action   string          `json:"action"` // saved, deleted
	Synced   bool            `json:"synced"`
	Record   json.RawMessage `json:"record,omitempty"`
}

// SyncCompleteData summarises a finished pass.
type SyncCompleteData struct {
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
	Pulled    int           `json:"pulled"`
	Removed   int           `json:"removed"`
	Pending   int           `json:"pending"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// StatusSource is the part of the sync engine the handler reports on.
type StatusSource interface {
	Status() offsync.Status
	OnStateChange(fn func(from, to offsync.State)) (remove func())
}

// Handler turns cache and engine events into dashboard messages.
type Handler struct {
	server *Server
	status StatusSource
	logger *slog.Logger
}

// NewHandler creates a handler feeding server.
func NewHandler(server *Server, status StatusSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{server: server, status: status, logger: logger}
	server.SetWelcome(h.statusMessage)
	return h
}

// Attach subscribes to c and the status source. The returned func detaches.
func (h *Handler) Attach(c *cache.Cache) (detach func()) {
	unsub := c.Subscribe(h.OnChange)
	remove := h.status.OnStateChange(func(from, to offsync.State) {
		h.logger.Debug("sync state changed", "from", from, "to", to)
		h.server.Broadcast(h.statusMessage())
	})
	return func() {
		unsub()
		remove()
	}
}

// OnChange handles one committed cache mutation.
func (h *Handler) OnChange(ch cache.Change) {
	switch ch.Table {
	case schema.TableProfiles, schema.TableDailyLogs, schema.TableCycles:
	case schema.TableQueue:
		// Pending count moved.
		h.server.Broadcast(h.statusMessage())
		return
	default:
		return
	}

	data := RecordChangeData{Table: ch.Table, RecordID: ch.Key, Action: "deleted"}
	if ch.Kind == cache.ChangeSet {
		data.Action = "saved"
		if ent, ok := ch.Record.(schema.Entity); ok {
			data.Synced = ent.IsSynced()
		}
		raw, err := json.Marshal(ch.Record)
		if err != nil {
			h.logger.Error("failed to marshal record", "table", ch.Table, "id", ch.Key, "error", err)
			return
		}
		data.Record = raw
	}
	h.send(MessageTypeRecordChange, data)
}

// OnSyncComplete reports a finished pass.
func (h *Handler) OnSyncComplete(res offsync.Result) {
	data := SyncCompleteData{
		Success:   res.Success,
		Failed:    res.Failed,
		Conflicts: res.Conflicts,
		Pulled:    res.Pulled,
		Removed:   res.Removed,
		Pending:   res.Pending,
		Duration:  res.FinishedAt.Sub(res.StartedAt),
	}
	if res.Err != nil {
		data.Error = res.Err.Error()
	}
	h.logger.Debug("sync complete", "success", res.Success, "failed", res.Failed, "duration", data.Duration)
	h.send(MessageTypeSyncComplete, data)
}

func (h *Handler) statusMessage() Message {
	raw, err := json.Marshal(h.status.Status())
	if err != nil {
		h.logger.Error("failed to marshal status", "error", err)
	}
	return Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: raw}
}

func (h *Handler) send(typ MessageType, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to marshal message data", "type", typ, "error", err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: raw})
}
