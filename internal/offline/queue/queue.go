// Package queue is the ordered log of local mutations waiting for the remote
// authority to acknowledge them.
//
// Entries are rows of the sync_queue table held in the cache, so they are
// persisted by the cache's flusher like every other row and survive restarts.
// Ordering is by creation time, ties broken by id; ids and creation times
// increase monotonically. Later mutations to the same record are appended, never
// merged.
package queue

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// Queue appends and drains sync_queue entries.
type Queue struct {
	c   *cache.Cache
	now func() time.Time

	mu          sync.Mutex
	lastID      int64
	lastCreated time.Time
}

// New returns a queue over c, which must already be loaded. Clock defaults to
// time.Now.
func New(c *cache.Cache, clock func() time.Time) *Queue {
	if clock == nil {
		clock = time.Now
	}
	q := &Queue{c: c, now: clock}
	for _, e := range q.entries() {
		q.lastID = max(q.lastID, e.ID)
		if e.CreatedAt.After(q.lastCreated) {
			q.lastCreated = e.CreatedAt
		}
	}
	return q
}

// Enqueue stages a new entry in tx. Data is the remote-shaped payload and
// must be nil for deletes.
func (q *Queue) Enqueue(tx *cache.Tx, table, recordID string, op schema.Operation, data []byte) (*schema.QueueEntry, error) {
	id, created := q.next()
	e := &schema.QueueEntry{
		ID:        id,
		Table:     table,
		RecordID:  recordID,
		Operation: op,
		Data:      data,
		CreatedAt: created,
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue entry: %w", err)
	}
	tx.Set(e)
	return e, nil
}

// next returns the id and creation time of a new entry. Creation times
// never go backwards, even when the clock does.
func (q *Queue) next() (int64, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastID++
	created := q.now().UTC()
	if created.Before(q.lastCreated) {
		created = q.lastCreated
	}
	q.lastCreated = created
	return q.lastID, created
}

func (q *Queue) entries() []*schema.QueueEntry {
	return cache.Query(q.c, schema.TableQueue, nil, compare)
}

func compare(a, b *schema.QueueEntry) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// Pending returns every entry, oldest first.
func (q *Queue) Pending() []*schema.QueueEntry {
	return q.entries()
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	return q.c.Len(schema.TableQueue)
}

// Drain iterates a snapshot of the queue oldest-first. Entries enqueued
// during iteration are picked up by the next drain.
func (q *Queue) Drain() iter.Seq[*schema.QueueEntry] {
	snapshot := q.entries()
	return func(yield func(*schema.QueueEntry) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

// Remove deletes an acknowledged or permanently rejected entry.
func (q *Queue) Remove(id int64) error {
	return q.c.Delete(schema.TableQueue, schema.QueueKey(id))
}

// ForRecord returns the entries targeting a record, oldest first.
func (q *Queue) ForRecord(table, recordID string) []*schema.QueueEntry {
	return cache.Query(q.c, schema.TableQueue, func(e *schema.QueueEntry) bool {
		return e.Table == table && e.RecordID == recordID
	}, compare)
}

// PendingIn is ForRecord within a batch.
func PendingIn(tx *cache.Tx, table, recordID string) []*schema.QueueEntry {
	entries := cache.TxQuery(tx, schema.TableQueue, func(e *schema.QueueEntry) bool {
		return e.Table == table && e.RecordID == recordID
	})
	slices.SortFunc(entries, compare)
	return entries
}

// Retarget points every entry of a record at newID. Used when a temporary id
// is swapped for the remote-assigned one.
func Retarget(tx *cache.Tx, table, oldID, newID string) int {
	entries := PendingIn(tx, table, oldID)
	for _, e := range entries {
		e.RecordID = newID
		tx.Set(e)
	}
	return len(entries)
}

// RemoveForRecord drops every entry of a record. Used when the remote
// version of the record wins.
func RemoveForRecord(tx *cache.Tx, table, recordID string) int {
	entries := PendingIn(tx, table, recordID)
	for _, e := range entries {
		tx.Delete(schema.TableQueue, e.RecordKey())
	}
	return len(entries)
}

// RemoveIn deletes one entry within a batch.
func RemoveIn(tx *cache.Tx, id int64) {
	tx.Delete(schema.TableQueue, schema.QueueKey(id))
}
