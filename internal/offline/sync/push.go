package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/remote"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// push drains the queue oldest-first. It returns the error that stopped
// draining; permanently rejected entries are dropped and counted instead.
func (e *Engine) push(ctx context.Context, res *Result) error {
	for snap := range e.q.Drain() {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Earlier entries may have rekeyed or removed this one.
		r, ok := e.c.Get(schema.TableQueue, snap.RecordKey())
		if !ok {
			continue
		}
		entry := r.(*schema.QueueEntry)

		err := e.pushEntry(ctx, entry)
		switch {
		case err == nil:
			res.Success++
		case remote.IsPermanent(err):
			res.Failed++
			e.logger.Warn("remote rejected queued change, dropping it",
				"table", entry.Table, "id", entry.RecordID, "op", entry.Operation, "error", err)
			if err := e.q.Remove(entry.ID); err != nil {
				return fmt.Errorf("failed to drop rejected entry %d: %w", entry.ID, err)
			}
		default:
			return err
		}
	}
	return nil
}

func (e *Engine) pushEntry(ctx context.Context, entry *schema.QueueEntry) error {
	switch entry.Operation {
	case schema.OpCreate:
		rec, err := e.remote.Create(ctx, entry.Table, entry.Data)
		if err != nil {
			return err
		}
		return e.acknowledge(entry, rec.ID, rec.Updated)

	case schema.OpUpdate:
		id := e.c.ResolveID(entry.RecordID)
		if schema.IsTemporaryID(id) {
			return fmt.Errorf("update of %s %s: %w: create was never acknowledged", entry.Table, id, remote.ErrNotFound)
		}
		rec, err := e.remote.Update(ctx, entry.Table, id, entry.Data)
		if err != nil {
			return err
		}
		return e.acknowledge(entry, id, rec.Updated)

	case schema.OpDelete:
		id := e.c.ResolveID(entry.RecordID)
		if !schema.IsTemporaryID(id) {
			if err := e.remote.Delete(ctx, entry.Table, id); err != nil {
				return err
			}
		}
		// A record deleted before its create was pushed never existed remotely.
		return e.acknowledge(entry, id, time.Time{})
	}
	return fmt.Errorf("unknown operation %q", entry.Operation)
}

// acknowledge removes entry and records the outcome locally: a created
// record is rekeyed to remoteID, and the row becomes synced once nothing
// else is queued for it.
func (e *Engine) acknowledge(entry *schema.QueueEntry, remoteID string, updated time.Time) error {
	return e.c.Batch(func(tx *cache.Tx) error {
		queue.RemoveIn(tx, entry.ID)
		table, localID := entry.Table, entry.RecordID

		r, exists := tx.Get(table, localID)
		if localID != remoteID {
			if exists {
				tx.Delete(table, localID)
			}
			e.rekeyIn(tx, table, localID, remoteID)
		}
		if !exists || entry.Operation == schema.OpDelete {
			return nil
		}

		ent := r.(schema.Entity)
		if len(queue.PendingIn(tx, table, remoteID)) > 0 {
			// Later local edits are still queued; keep their timestamp.
			tx.Set(schema.WithIdentity(ent, remoteID, false, ent.LastModified()))
			return nil
		}
		tx.Set(schema.WithIdentity(ent, remoteID, true, updated))
		return nil
	})
}
