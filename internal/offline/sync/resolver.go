package sync

import (
	"context"
	"fmt"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// Conflict is a record modified locally and remotely since the last sync.
type Conflict struct {
	Table string
	// LocalID is the local key of the record when the conflict was found.
	LocalID string
	Local   schema.Entity
	// Remote is the remote version, already in local form and marked synced.
	Remote schema.Entity
}

// RemoteID is the id the authority knows the record by.
func (c *Conflict) RemoteID() string { return c.Remote.RecordKey() }

// Decision is the outcome of a conflict.
type Decision int

const (
	KeepLocal Decision = iota
	KeepRemote
)

func (d Decision) String() string {
	if d == KeepRemote {
		return "remote"
	}
	return "local"
}

// Resolution records how a conflict was settled.
type Resolution struct {
	Conflict *Conflict
	Decision Decision
}

// Strategy decides which side of a conflict wins. The whole record wins;
// fields are never merged.
type Strategy interface {
	Decide(ctx context.Context, c *Conflict) (Decision, error)
}

// StrategyFunc adapts a function, such as a user prompt, to Strategy.
type StrategyFunc func(ctx context.Context, c *Conflict) (Decision, error)

// Decide implements Strategy.
func (f StrategyFunc) Decide(ctx context.Context, c *Conflict) (Decision, error) {
	return f(ctx, c)
}

var (
	// LocalWins keeps the local version and queues it for push.
	LocalWins Strategy = StrategyFunc(func(context.Context, *Conflict) (Decision, error) {
		return KeepLocal, nil
	})
	// RemoteWins overwrites the local version with the remote one.
	RemoteWins Strategy = StrategyFunc(func(context.Context, *Conflict) (Decision, error) {
		return KeepRemote, nil
	})
)

// Detect reports whether local and remote conflict: the local row is
// unsynced, strictly newer, and differs in content.
func Detect(local, remote schema.Entity) bool {
	return !local.IsSynced() &&
		local.LastModified().After(remote.LastModified()) &&
		!schema.ContentEqual(local, remote)
}

// resolve asks the strategy and applies its decision. A failing strategy
// falls back to keeping the local version so the user is never blocked.
func (e *Engine) resolve(ctx context.Context, c *Conflict) (Resolution, error) {
	d, err := e.strategy.Decide(ctx, c)
	if err != nil {
		e.logger.Warn("conflict strategy failed, keeping local version",
			"table", c.Table, "id", c.LocalID, "error", err)
		d = KeepLocal
	}
	if err := e.ResolveConflict(ctx, c, d == KeepLocal); err != nil {
		return Resolution{}, err
	}
	e.logger.Info("conflict resolved", "table", c.Table, "id", c.LocalID,
		"remote_id", c.RemoteID(), "winner", d)
	return Resolution{Conflict: c, Decision: d}, nil
}

// ResolveConflict settles c. Keeping local queues the local payload for push
// and leaves the row unsynced; otherwise the remote version overwrites the
// row and its pending entries are dropped. If the local row has been deleted
// since, nothing changes.
func (e *Engine) ResolveConflict(ctx context.Context, c *Conflict, keepLocal bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.c.Batch(func(tx *cache.Tx) error {
		r, ok := tx.Resolve(c.Table, c.LocalID)
		if !ok {
			return nil
		}
		local := r.(schema.Entity)
		if keepLocal {
			return e.keepLocal(tx, local, c.RemoteID())
		}
		e.adoptRemote(tx, local.RecordKey(), c.Remote)
		return nil
	})
}

// keepLocal makes local the pending version of remoteID.
func (e *Engine) keepLocal(tx *cache.Tx, local schema.Entity, remoteID string) error {
	table, key := local.TableName(), local.RecordKey()
	payload, err := local.ToRemote()
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", table, key, err)
	}
	if key != remoteID {
		// The local row was matched by natural key. Its queued create would
		// duplicate the remote record, so it becomes an update of that record.
		queue.RemoveForRecord(tx, table, key)
		tx.Delete(table, key)
		tx.Set(schema.WithIdentity(local, remoteID, false, local.LastModified()))
		e.rekeyIn(tx, table, key, remoteID)
		_, err := e.q.Enqueue(tx, table, remoteID, schema.OpUpdate, payload)
		return err
	}
	if local.IsSynced() {
		tx.Set(schema.WithIdentity(local, key, false, local.LastModified()))
	}
	if len(queue.PendingIn(tx, table, key)) > 0 {
		return nil
	}
	_, err = e.q.Enqueue(tx, table, key, schema.OpUpdate, payload)
	return err
}

// adoptRemote replaces the local row stored under localKey (if any) with
// remote and drops the local row's pending entries.
func (e *Engine) adoptRemote(tx *cache.Tx, localKey string, remote schema.Entity) {
	table, remoteID := remote.TableName(), remote.RecordKey()
	if localKey != "" {
		queue.RemoveForRecord(tx, table, localKey)
		if localKey != remoteID {
			tx.Delete(table, localKey)
			e.rekeyIn(tx, table, localKey, remoteID)
		}
	}
	tx.Set(remote)
}

// rekeyIn points everything referring to oldID at newID: queue entries,
// aliases targeting oldID and, when oldID was temporary, a new alias.
func (e *Engine) rekeyIn(tx *cache.Tx, table, oldID, newID string) {
	if oldID == newID {
		return
	}
	queue.Retarget(tx, table, oldID, newID)
	for _, a := range cache.TxQuery(tx, schema.TableAliases, func(a *schema.IDAlias) bool {
		return a.Table == table && a.RemoteID == oldID
	}) {
		a.RemoteID = newID
		tx.Set(a)
	}
	if schema.IsTemporaryID(oldID) {
		tx.Set(&schema.IDAlias{TempID: oldID, RemoteID: newID, Table: table, CreatedAt: e.now().UTC()})
	}
}
