package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operations accepted by Memory.FailNext.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpList   = "list"
)

// Memory is an in-memory Authority. It assigns ids shaped like the real
// server's ("rec_" followed by 15 characters), stamps updated on every write
// and rejects payloads without a "user" field.
type Memory struct {
	mu      sync.Mutex
	cols    map[string]map[string]*memRecord
	seq     int
	now     func() time.Time
	newID   func() string
	faults  []fault
	offline bool
	calls   map[string]int
}

type memRecord struct {
	rec   Record
	owner string
	seq   int
}

type fault struct {
	op   string
	kind error
}

// NewMemory creates an empty in-memory authority.
func NewMemory() *Memory {
	return &Memory{
		cols:  make(map[string]map[string]*memRecord),
		now:   time.Now,
		newID: newRecordID,
		calls: make(map[string]int),
	}
}

// SetClock replaces the clock used to stamp updated.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetIDGenerator replaces the function assigning ids to created records.
func (m *Memory) SetIDGenerator(newID func() string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newID = newID
}

// SetOffline makes every call fail with ErrTransient until cleared.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailNext makes the next call of op fail with kind. Faults queue up in the
// order they were added.
func (m *Memory) FailNext(op string, kind error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, fault{op: op, kind: kind})
}

// Calls returns how many times op was invoked, failed calls included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores rec as is, as if another device had written it. A zero Updated
// is stamped with the clock.
func (m *Memory) Put(collection string, rec Record) error {
	owner, err := ownerOf(rec.Data)
	if err != nil {
		return fmt.Errorf("invalid record body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Updated.IsZero() {
		rec.Updated = m.now().UTC()
	}
	if rec.ID == "" {
		rec.ID = m.newID()
	}
	m.store(collection, rec, owner)
	return nil
}

// Get returns a stored record.
func (m *Memory) Get(collection, id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.cols[collection][id]
	if !ok {
		return Record{}, false
	}
	return copyRecord(r.rec), true
}

// Len returns the number of records in collection.
func (m *Memory) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cols[collection])
}

// Create implements Authority.
func (m *Memory) Create(ctx context.Context, collection string, data []byte) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpCreate, collection, ""); err != nil {
		return Record{}, err
	}
	owner, err := validPayload(data)
	if err != nil {
		return Record{}, &Error{Op: OpCreate, Collection: collection, Kind: ErrValidation, Status: 400, Message: err.Error()}
	}
	rec := Record{ID: m.newID(), Updated: m.now().UTC(), Data: data}
	m.store(collection, rec, owner)
	return copyRecord(rec), nil
}

// Update implements Authority.
func (m *Memory) Update(ctx context.Context, collection, id string, data []byte) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpUpdate, collection, id); err != nil {
		return Record{}, err
	}
	existing, ok := m.cols[collection][id]
	if !ok {
		return Record{}, &Error{Op: OpUpdate, Collection: collection, ID: id, Kind: ErrNotFound, Status: 404}
	}
	owner, err := validPayload(data)
	if err != nil {
		return Record{}, &Error{Op: OpUpdate, Collection: collection, ID: id, Kind: ErrValidation, Status: 400, Message: err.Error()}
	}
	existing.rec.Data = append(json.RawMessage(nil), data...)
	existing.rec.Updated = m.now().UTC()
	existing.owner = owner
	return copyRecord(existing.rec), nil
}

// Delete implements Authority.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpDelete, collection, id); err != nil {
		return err
	}
	if _, ok := m.cols[collection][id]; !ok {
		return &Error{Op: OpDelete, Collection: collection, ID: id, Kind: ErrNotFound, Status: 404}
	}
	delete(m.cols[collection], id)
	return nil
}

// List implements Authority. Records come back in creation order.
func (m *Memory) List(ctx context.Context, collection, userID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpList, collection, ""); err != nil {
		return nil, err
	}
	var rs []*memRecord
	for _, r := range m.cols[collection] {
		if r.owner == userID {
			rs = append(rs, r)
		}
	}
	slices.SortFunc(rs, func(a, b *memRecord) int { return a.seq - b.seq })
	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = copyRecord(r.rec)
	}
	return out, nil
}

// enter counts the call and applies injected faults. Callers hold m.mu.
func (m *Memory) enter(ctx context.Context, op, collection, id string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Collection: collection, ID: id, Kind: ErrTransient, Err: err}
	}
	if m.offline {
		return &Error{Op: op, Collection: collection, ID: id, Kind: ErrTransient, Message: "offline"}
	}
	for i, f := range m.faults {
		if f.op == op {
			m.faults = slices.Delete(m.faults, i, i+1)
			return &Error{Op: op, Collection: collection, ID: id, Kind: f.kind, Message: "injected"}
		}
	}
	return nil
}

func (m *Memory) store(collection string, rec Record, owner string) {
	col, ok := m.cols[collection]
	if !ok {
		col = make(map[string]*memRecord)
		m.cols[collection] = col
	}
	m.seq++
	rec.Data = append(json.RawMessage(nil), rec.Data...)
	col[rec.ID] = &memRecord{rec: rec, owner: owner, seq: m.seq}
}

func validPayload(data []byte) (string, error) {
	owner, err := ownerOf(data)
	if err != nil {
		return "", fmt.Errorf("malformed body: %w", err)
	}
	if owner == "" {
		return "", fmt.Errorf("user: cannot be blank")
	}
	return owner, nil
}

func copyRecord(r Record) Record {
	r.Data = append(json.RawMessage(nil), r.Data...)
	return r
}

func newRecordID() string {
	return "rec_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}
