package cache

import (
	"fmt"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// Tx stages mutations inside Batch. Reads through a Tx observe its own
// staged writes.
type Tx struct {
	c      *Cache
	staged map[rowKey]schema.Record // nil value = delete
	order  []rowKey
}

// Batch runs fn with the cache write-locked and commits the staged
// mutations only if fn returns nil. Either every mutation becomes visible
// or none does.
//
// fn must not call methods on the Cache itself; use the Tx.
func (c *Cache) Batch(fn func(tx *Tx) error) error {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}

	tx := &Tx{c: c, staged: make(map[rowKey]schema.Record)}
	if err := fn(tx); err != nil {
		c.mu.Unlock()
		return err
	}
	for _, k := range tx.order {
		if _, ok := c.tables[k.table]; !ok {
			c.mu.Unlock()
			return fmt.Errorf("unknown table %q", k.table)
		}
	}

	changes := make([]Change, 0, len(tx.order))
	for _, k := range tx.order {
		rec := tx.staged[k]
		if rec == nil {
			if _, ok := c.tables[k.table][k.key]; !ok {
				continue
			}
			delete(c.tables[k.table], k.key)
			changes = append(changes, Change{Kind: ChangeDelete, Table: k.table, Key: k.key})
		} else {
			c.tables[k.table][k.key] = rec
			changes = append(changes, Change{Kind: ChangeSet, Table: k.table, Key: k.key, Record: rec.CloneRecord()})
		}
		c.seq++
		c.dirty[k] = c.seq
	}
	c.mu.Unlock()

	c.notify(changes)
	return nil
}

// Get returns a copy of a row, including rows staged in this batch.
func (tx *Tx) Get(table, key string) (schema.Record, bool) {
	k := rowKey{table, key}
	if rec, ok := tx.staged[k]; ok {
		if rec == nil {
			return nil, false
		}
		return rec.CloneRecord(), true
	}
	return tx.c.getLocked(table, key)
}

// Resolve is Cache.Resolve within the batch.
func (tx *Tx) Resolve(table, id string) (schema.Record, bool) {
	if r, ok := tx.Get(table, id); ok {
		return r, true
	}
	ar, ok := tx.Get(schema.TableAliases, id)
	if !ok {
		return nil, false
	}
	a := ar.(*schema.IDAlias)
	if a.Table != table {
		return nil, false
	}
	return tx.Get(table, a.RemoteID)
}

// Query is Cache.Query over committed rows merged with this batch's staged ones.
func (tx *Tx) Query(table string, pred func(schema.Record) bool) []schema.Record {
	var out []schema.Record
	for key, r := range tx.c.tables[table] {
		if _, staged := tx.staged[rowKey{table, key}]; staged {
			continue
		}
		if pred == nil || pred(r) {
			out = append(out, r.CloneRecord())
		}
	}
	for _, k := range tx.order {
		if k.table != table {
			continue
		}
		if r := tx.staged[k]; r != nil && (pred == nil || pred(r)) {
			out = append(out, r.CloneRecord())
		}
	}
	return out
}

// Set stages a row upsert.
func (tx *Tx) Set(rec schema.Record) {
	tx.stage(rowKey{rec.TableName(), rec.RecordKey()}, rec.CloneRecord())
}

// Delete stages a row removal.
func (tx *Tx) Delete(table, key string) {
	tx.stage(rowKey{table, key}, nil)
}

func (tx *Tx) stage(k rowKey, rec schema.Record) {
	if _, seen := tx.staged[k]; !seen {
		tx.order = append(tx.order, k)
	}
	tx.staged[k] = rec
}
