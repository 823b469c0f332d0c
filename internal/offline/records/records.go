// Package records provides the typed CRUD services for profiles, daily logs
// and cycles.
//
// Every mutation writes the row and appends the matching sync_queue entry in
// one cache batch: either both become visible or neither does. Payloads are
// queued already translated to the remote field names. Errors are always
// returned to the caller.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrNoOpenCycle is returned by MarkPeriodEnd when the user has no open
	// cycle and no start date was supplied.
	ErrNoOpenCycle = errors.New("no open cycle")
)

// Options configures NewServices.
type Options struct {
	// Clock stamps updated_at (default time.Now).
	Clock  func() time.Time
	Logger *slog.Logger
}

// Services bundles the three record services over one cache and queue.
type Services struct {
	Profiles  *ProfileService
	DailyLogs *DailyLogService
	Cycles    *CycleService
}

// NewServices creates the record services.
func NewServices(c *cache.Cache, q *queue.Queue, opts Options) *Services {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &base{c: c, q: q, now: opts.Clock, logger: opts.Logger}
	return &Services{
		Profiles:  &ProfileService{base: b},
		DailyLogs: &DailyLogService{base: b},
		Cycles:    &CycleService{base: b},
	}
}

type base struct {
	c      *cache.Cache
	q      *queue.Queue
	now    func() time.Time
	logger *slog.Logger
}

func (b *base) stamp() time.Time {
	return b.now().UTC()
}

// write upserts e and enqueues its create or update within tx.
func (b *base) write(tx *cache.Tx, e schema.Entity, isNew bool) error {
	payload, err := e.ToRemote()
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", e.TableName(), e.RecordKey(), err)
	}
	op := schema.OpUpdate
	if isNew {
		op = schema.OpCreate
	}
	tx.Set(e)
	if _, err := b.q.Enqueue(tx, e.TableName(), e.RecordKey(), op, payload); err != nil {
		return err
	}
	b.logger.Debug("queued local change", "table", e.TableName(), "id", e.RecordKey(), "op", op)
	return nil
}

// remove deletes the row for id and enqueues the delete within tx.
func (b *base) remove(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.c.Batch(func(tx *cache.Tx) error {
		r, ok := tx.Resolve(table, id)
		if !ok {
			return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
		}
		key := r.RecordKey()
		tx.Delete(table, key)
		if _, err := b.q.Enqueue(tx, table, key, schema.OpDelete, nil); err != nil {
			return err
		}
		b.logger.Debug("queued local change", "table", table, "id", key, "op", schema.OpDelete)
		return nil
	})
}

// resolveExisting returns the current key of id within tx, or "" when the
// record does not exist.
func resolveExisting(tx *cache.Tx, table, id string) string {
	if id == "" {
		return ""
	}
	if r, ok := tx.Resolve(table, id); ok {
		return r.RecordKey()
	}
	return ""
}
