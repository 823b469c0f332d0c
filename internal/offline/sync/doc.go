// Package sync reconciles the local store with the remote authority.
//
// Overview
//
// A sync pass is a small state machine:
//
//	Idle → Pulling → Resolving → Pushing → WatermarkUpdate → Idle
//	  └──→ Failed → Idle   (the pull could not complete)
//
// Pulling fetches every profile, daily log and cycle the user owns and
// upserts them into the cache as synced, except where the local row is
// unsynced and strictly newer with different content. Those rows are
// conflicts and are left untouched for Resolving, which asks a Strategy to
// keep either the local or the remote version. Pushing then drains the
// operation queue in order against the authority. WatermarkUpdate records
// last_sync_time whenever the pull succeeded, even if pushing stopped early.
//
// Matching
//
// Remote records are matched to local rows by id first (temporary ids are
// followed through id_aliases), then by natural key: the user for a
// profile, the date for a daily log, the start date for a cycle.
//
// Failure policy
//
//   - Pull failures abort the pass in Failed without touching local data.
//   - Validation and not-found errors while pushing drop the queue entry
//     and count it in Result.Failed.
//   - Any other push error stops draining; remaining entries wait for the
//     next pass.
//
// Every phase is idempotent, so a pass interrupted by process exit is
// simply repeated.
//
// Concurrency
//
// One pass runs at a time per Engine. PerformSync called while a pass is
// running returns immediately with ErrSyncInProgress. The cache stays
// readable during a pass; each reconciliation step is one cache batch.
//
// Usage
//
//	c := cache.New(database, cache.Options{})
//	if err := c.Load(ctx); err != nil {
//	    return err
//	}
//	q := queue.New(c, nil)
//	engine := sync.New(c, q, authority, sync.Options{})
//	res := engine.PerformSync(ctx, "u1")
//	if res.Err != nil {
//	    log.Printf("sync failed: %v", res.Err)
//	}
package sync
