package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/db"
)

// Start launches the background flusher. It stops when ctx is cancelled or
// Close is called.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.processDirtyRows(ctx)
}

// processDirtyRows flushes dirty rows on every tick.
func (c *Cache) processDirtyRows(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("flush failed, will retry", "error", err, "dirty", c.DirtyCount())
			}
		}
	}
}

// DirtyCount returns the number of rows not yet persisted.
func (c *Cache) DirtyCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dirty)
}

// Flush synchronously persists every dirty row. Rows stay dirty if the
// store rejects the batch.
func (c *Cache) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	// Snapshot under the read lock: the current row, or a delete when absent.
	c.mu.RLock()
	if len(c.dirty) == 0 {
		c.mu.RUnlock()
		return nil
	}
	seen := make(map[rowKey]uint64, len(c.dirty))
	muts := make([]db.Mutation, 0, len(c.dirty))
	for k, seq := range c.dirty {
		seen[k] = seq
		m := db.Mutation{Table: k.table, Key: k.key}
		if r, ok := c.tables[k.table][k.key]; ok {
			m.Record = r.CloneRecord()
		}
		muts = append(muts, m)
	}
	c.mu.RUnlock()

	sort.Slice(muts, func(i, j int) bool {
		if muts[i].Table != muts[j].Table {
			return muts[i].Table < muts[j].Table
		}
		return muts[i].Key < muts[j].Key
	})

	if err := c.persister.Apply(ctx, muts); err != nil {
		return fmt.Errorf("failed to persist %d rows: %w", len(muts), err)
	}

	// Clear only what was written and has not changed since the snapshot.
	c.mu.Lock()
	for k, seq := range seen {
		if c.dirty[k] == seq {
			delete(c.dirty, k)
		}
	}
	c.mu.Unlock()

	c.logger.Debug("flushed rows", "count", len(muts))
	return nil
}

// Close stops the flusher and performs a final flush.
func (c *Cache) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.Flush(ctx)
}
