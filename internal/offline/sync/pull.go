package sync

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/remote"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// pull fetches the user's remote records and reconciles them with the cache
// in a single batch. Conflicting rows are returned untouched.
func (e *Engine) pull(ctx context.Context, userID string, res *Result) ([]*Conflict, error) {
	fetched, err := e.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}

	var conflicts []*Conflict
	err = e.c.Batch(func(tx *cache.Tx) error {
		conflicts = conflicts[:0]
		res.Pulled, res.Removed = 0, 0
		for _, table := range schema.EntityTables {
			r := &reconciler{
				e:       e,
				tx:      tx,
				table:   table,
				userID:  userID,
				listed:  fetched.ids[table],
				claimed: make(map[string]bool),
			}
			r.run(fetched.records[table])
			conflicts = append(conflicts, r.conflicts...)
			res.Pulled += r.written
			res.Removed += r.removed
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply pulled records: %w", err)
	}
	return conflicts, nil
}

type snapshot struct {
	records map[string][]schema.Entity
	// ids holds every listed id per table, undecodable records included.
	ids map[string]map[string]bool
}

// fetch lists the three collections concurrently and decodes them. Records
// that cannot be decoded or belong to someone else are skipped.
func (e *Engine) fetch(ctx context.Context, userID string) (*snapshot, error) {
	lists := make([][]remote.Record, len(schema.EntityTables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range schema.EntityTables {
		g.Go(func() error {
			recs, err := e.remote.List(gctx, table, userID)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", table, err)
			}
			lists[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &snapshot{
		records: make(map[string][]schema.Entity, len(lists)),
		ids:     make(map[string]map[string]bool, len(lists)),
	}
	for i, table := range schema.EntityTables {
		out.ids[table] = make(map[string]bool, len(lists[i]))
		for _, rec := range lists[i] {
			out.ids[table][rec.ID] = true
			ent, err := schema.EntityFromRemote(table, rec.ID, rec.Updated, rec.Data)
			if err != nil {
				e.logger.Warn("skipping undecodable remote record", "table", table, "id", rec.ID, "error", err)
				continue
			}
			if ent.Owner() != userID {
				e.logger.Warn("skipping remote record of another user", "table", table, "id", rec.ID)
				continue
			}
			out.records[table] = append(out.records[table], ent)
		}
	}
	return out, nil
}

// reconciler applies one table's remote records within a pull batch.
type reconciler struct {
	e      *Engine
	tx     *cache.Tx
	table  string
	userID string
	listed map[string]bool

	claimed   map[string]bool // local keys already matched in this pass
	conflicts []*Conflict
	written   int
	removed   int
}

func (r *reconciler) run(remotes []schema.Entity) {
	// Id matches claim their rows first so natural-key matching cannot
	// steal them.
	var unmatched []schema.Entity
	for _, rem := range remotes {
		if local, ok := r.byID(rem.RecordKey()); ok {
			r.claimed[local.RecordKey()] = true
			r.apply(local, rem)
			continue
		}
		unmatched = append(unmatched, rem)
	}
	for _, rem := range unmatched {
		if local := r.byNaturalKey(rem); local != nil {
			r.claimed[local.RecordKey()] = true
			r.apply(local, rem)
			continue
		}
		if r.deletePending(rem.RecordKey()) || r.collides(rem, "") {
			continue
		}
		r.tx.Set(rem)
		r.claimed[rem.RecordKey()] = true
		r.written++
	}
	r.sweep()
}

// apply reconciles one matched pair.
func (r *reconciler) apply(local, rem schema.Entity) {
	key := local.RecordKey()
	switch {
	case Detect(local, rem):
		r.conflicts = append(r.conflicts, &Conflict{Table: r.table, LocalID: key, Local: local, Remote: rem})
	case local.IsSynced() && key == rem.RecordKey() &&
		local.LastModified().Equal(rem.LastModified()) && schema.ContentEqual(local, rem):
		// Already identical.
	case r.collides(rem, key):
	default:
		r.e.adoptRemote(r.tx, key, rem)
		r.written++
	}
}

// collides reports whether writing rem would give the user a second profile
// or a second log on the same date. Such records are skipped for this pass.
func (r *reconciler) collides(rem schema.Entity, replacing string) bool {
	if r.table != schema.TableProfiles && r.table != schema.TableDailyLogs {
		return false
	}
	same := naturalKeyMatcher(rem)
	for _, rec := range r.tx.Query(r.table, nil) {
		ent := rec.(schema.Entity)
		key := ent.RecordKey()
		if key == replacing || key == rem.RecordKey() || ent.Owner() != r.userID || !same(ent) {
			continue
		}
		r.e.logger.Warn("skipping remote record that duplicates a local one",
			"table", r.table, "id", rem.RecordKey(), "local_id", key)
		return true
	}
	return false
}

func (r *reconciler) byID(id string) (schema.Entity, bool) {
	rec, ok := r.tx.Resolve(r.table, id)
	if !ok {
		return nil, false
	}
	ent := rec.(schema.Entity)
	if ent.Owner() != r.userID || r.claimed[ent.RecordKey()] {
		return nil, false
	}
	return ent, true
}

func (r *reconciler) byNaturalKey(rem schema.Entity) schema.Entity {
	same := naturalKeyMatcher(rem)
	if same == nil {
		return nil
	}
	var best schema.Entity
	for _, rec := range r.tx.Query(r.table, nil) {
		ent := rec.(schema.Entity)
		if ent.Owner() != r.userID || r.claimed[ent.RecordKey()] || !same(ent) {
			continue
		}
		// Prefer rows that never reached the remote.
		if best == nil || (schema.IsTemporaryID(ent.RecordKey()) && !schema.IsTemporaryID(best.RecordKey())) {
			best = ent
		}
	}
	return best
}

func naturalKeyMatcher(rem schema.Entity) func(schema.Entity) bool {
	switch v := rem.(type) {
	case *schema.Profile:
		return func(e schema.Entity) bool { return e.Owner() == v.UserID }
	case *schema.DailyLog:
		return func(e schema.Entity) bool {
			l, ok := e.(*schema.DailyLog)
			return ok && l.Date == v.Date
		}
	case *schema.Cycle:
		return func(e schema.Entity) bool {
			c, ok := e.(*schema.Cycle)
			return ok && c.StartDate == v.StartDate
		}
	}
	return nil
}

func (r *reconciler) deletePending(id string) bool {
	for _, e := range queue.PendingIn(r.tx, r.table, id) {
		if e.Operation == schema.OpDelete {
			return true
		}
	}
	return false
}

// sweep removes local rows that the remote no longer has: rows with a
// remote id that was not listed, unmatched in this pass and with nothing
// left to push. Profiles are never hard-deleted.
func (r *reconciler) sweep() {
	if r.table == schema.TableProfiles {
		return
	}
	for _, rec := range r.tx.Query(r.table, nil) {
		ent := rec.(schema.Entity)
		key := ent.RecordKey()
		if ent.Owner() != r.userID || r.claimed[key] || r.listed[key] || schema.IsTemporaryID(key) {
			continue
		}
		if len(queue.PendingIn(r.tx, r.table, key)) > 0 {
			continue
		}
		r.tx.Delete(r.table, key)
		r.removed++
	}
}
