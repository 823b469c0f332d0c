package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// QueueEntry is one mutation waiting for the remote authority to acknowledge it.
type QueueEntry struct {
	ID        int64           `json:"id"`
	Table     string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Operation Operation       `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"` // remote-shaped payload, nil for delete
	CreatedAt time.Time       `json:"created_at"`
}

func (e *QueueEntry) TableName() string { return TableQueue }
func (e *QueueEntry) RecordKey() string { return QueueKey(e.ID) }

// CloneRecord implements Record.
func (e *QueueEntry) CloneRecord() Record { return e.Clone() }

// Clone returns a deep copy.
func (e *QueueEntry) Clone() *QueueEntry {
	c := *e
	if e.Data != nil {
		c.Data = append(json.RawMessage(nil), e.Data...)
	}
	return &c
}

// Validate checks the entry's invariants: delete carries no payload,
// create and update always do.
func (e *QueueEntry) Validate() error {
	if !IsEntityTable(e.Table) {
		return fmt.Errorf("invalid table_name %q", e.Table)
	}
	if e.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}
	if !e.Operation.IsValid() {
		return fmt.Errorf("invalid operation %q", e.Operation)
	}
	if e.Operation == OpDelete && e.Data != nil {
		return fmt.Errorf("delete entries carry no data")
	}
	if e.Operation != OpDelete && len(e.Data) == 0 {
		return fmt.Errorf("%s entries require data", e.Operation)
	}
	return nil
}

// Less orders entries by creation time, ties broken by id.
func (e *QueueEntry) Less(other *QueueEntry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.ID < other.ID
}

// QueueKey is the cache key of a queue entry.
func QueueKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
