package queue

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

type seedPersister struct {
	rows map[string][]schema.Record
}

func (p seedPersister) LoadAll(context.Context) (map[string][]schema.Record, error) {
	return p.rows, nil
}

func (seedPersister) Apply(context.Context, []db.Mutation) error { return nil }

func newCache(t *testing.T, seed ...schema.Record) *cache.Cache {
	t.Helper()
	rows := map[string][]schema.Record{}
	for _, r := range seed {
		rows[r.TableName()] = append(rows[r.TableName()], r)
	}
	c := cache.New(seedPersister{rows: rows}, cache.Options{})
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}

// fixedClock returns the same instant on every call.
func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func enqueue(t *testing.T, c *cache.Cache, q *Queue, table, id string, op schema.Operation, data string) *schema.QueueEntry {
	t.Helper()
	var e *schema.QueueEntry
	err := c.Batch(func(tx *cache.Tx) error {
		var payload []byte
		if data != "" {
			payload = []byte(data)
		}
		var err error
		e, err = q.Enqueue(tx, table, id, op, payload)
		return err
	})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return e
}

func TestDrain_PreservesEnqueueOrder(t *testing.T) {
	c := newCache(t)
	// Same timestamp for every entry: ordering falls back to id.
	q := New(c, fixedClock(time.Date(2024, 10, 4, 0, 0, 0, 0, time.UTC)))

	payloads := []string{`{"delay":1}`, `{"delay":2}`, `{"delay":3}`, `{"delay":4}`}
	for _, p := range payloads {
		enqueue(t, c, q, schema.TableCycles, "c1", schema.OpUpdate, p)
	}

	i := 0
	for e := range q.Drain() {
		if string(e.Data) != payloads[i] {
			t.Errorf("entry %d data = %s, want %s", i, e.Data, payloads[i])
		}
		i++
	}
	if i != len(payloads) {
		t.Errorf("drained %d entries, want %d", i, len(payloads))
	}
}

func TestDrain_OrdersByCreatedAt(t *testing.T) {
	base := time.Date(2024, 10, 4, 12, 0, 0, 0, time.UTC)
	older := &schema.QueueEntry{ID: 9, Table: schema.TableCycles, RecordID: "c", Operation: schema.OpDelete, CreatedAt: base}
	newer := &schema.QueueEntry{ID: 3, Table: schema.TableCycles, RecordID: "d", Operation: schema.OpDelete, CreatedAt: base.Add(time.Second)}
	c := newCache(t, newer, older)
	q := New(c, nil)

	pending := q.Pending()
	if len(pending) != 2 || pending[0].ID != 9 || pending[1].ID != 3 {
		t.Errorf("Pending() order = %v", pending)
	}

	// Ids continue after the highest loaded id.
	e := enqueue(t, c, q, schema.TableCycles, "e", schema.OpDelete, "")
	if e.ID != 10 {
		t.Errorf("next id = %d, want 10", e.ID)
	}
}

func TestEnqueue_ClockStepsBack(t *testing.T) {
	base := time.Date(2024, 10, 4, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-2 * time.Second), base.Add(-time.Second)}
	clock := func() time.Time {
		ts := ticks[0]
		ticks = ticks[1:]
		return ts
	}
	c := newCache(t)
	q := New(c, clock)

	payloads := []string{`{"delay":1}`, `{"delay":5}`, `{"delay":7}`}
	for _, p := range payloads {
		e := enqueue(t, c, q, schema.TableCycles, "c1", schema.OpUpdate, p)
		if e.CreatedAt.Before(base) {
			t.Errorf("entry %d CreatedAt = %v, before earlier entry at %v", e.ID, e.CreatedAt, base)
		}
	}

	var got []string
	for e := range q.Drain() {
		got = append(got, string(e.Data))
	}
	if !slices.Equal(got, payloads) {
		t.Errorf("drain order = %v, want %v", got, payloads)
	}
}

func TestNew_ResumesAfterLoadedCreatedAt(t *testing.T) {
	base := time.Date(2024, 10, 4, 12, 0, 0, 0, time.UTC)
	loaded := &schema.QueueEntry{ID: 4, Table: schema.TableCycles, RecordID: "c", Operation: schema.OpDelete, CreatedAt: base}
	c := newCache(t, loaded)
	// Clock behind the persisted entry, e.g. after a restart with a skewed clock.
	q := New(c, fixedClock(base.Add(-time.Hour)))

	e := enqueue(t, c, q, schema.TableCycles, "d", schema.OpDelete, "")
	if pending := q.Pending(); len(pending) != 2 || pending[1].ID != e.ID {
		t.Errorf("Pending() = %v, want new entry last", pending)
	}
}

func TestEnqueue_Validates(t *testing.T) {
	c := newCache(t)
	q := New(c, nil)

	err := c.Batch(func(tx *cache.Tx) error {
		_, err := q.Enqueue(tx, schema.TableDailyLogs, "x", schema.OpCreate, nil)
		return err
	})
	if err == nil {
		t.Fatal("create without payload must be rejected")
	}
	if q.Len() != 0 {
		t.Error("rejected entry was queued")
	}
}

func TestRemove(t *testing.T) {
	c := newCache(t)
	q := New(c, nil)
	e := enqueue(t, c, q, schema.TableDailyLogs, "l1", schema.OpDelete, "")

	if err := q.Remove(e.ID); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Remove", q.Len())
	}
}

func TestRetargetAndRemoveForRecord(t *testing.T) {
	c := newCache(t)
	q := New(c, nil)
	enqueue(t, c, q, schema.TableDailyLogs, "local_1", schema.OpCreate, `{}`)
	enqueue(t, c, q, schema.TableDailyLogs, "local_1", schema.OpUpdate, `{}`)
	enqueue(t, c, q, schema.TableDailyLogs, "local_2", schema.OpCreate, `{}`)

	err := c.Batch(func(tx *cache.Tx) error {
		if n := Retarget(tx, schema.TableDailyLogs, "local_1", "rec_1"); n != 2 {
			t.Errorf("Retarget() = %d, want 2", n)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = c.Batch(func(tx *cache.Tx) error {
		if got := PendingIn(tx, schema.TableDailyLogs, "local_1"); len(got) != 0 {
			t.Errorf("old id still has entries: %v", got)
		}
		if got := PendingIn(tx, schema.TableDailyLogs, "rec_1"); len(got) != 2 || got[0].Operation != schema.OpCreate {
			t.Errorf("PendingIn(rec_1) = %v", got)
		}
		RemoveForRecord(tx, schema.TableDailyLogs, "rec_1")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if got := q.ForRecord(schema.TableDailyLogs, "local_2"); len(got) != 1 || got[0].Operation != schema.OpCreate {
		t.Errorf("ForRecord(local_2) = %v", got)
	}
}
