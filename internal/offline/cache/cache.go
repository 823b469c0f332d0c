// Package cache is the in-memory mirror of the durable store that every
// other component reads and writes.
//
// All rows live in memory, one map per table, behind a single RWMutex, so a
// read that follows a write always observes it. Rows are cloned on the way in
// and on the way out; callers never share memory with the cache.
//
// Mutations are marked dirty and written to the durable store by a background
// flusher (see Start). A failed flush leaves the rows dirty and is retried on
// the next tick or the next explicit Flush.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

var (
	// ErrNotLoaded is returned by mutations issued before Load.
	ErrNotLoaded = errors.New("cache not loaded")
	// ErrAlreadyLoaded is returned by a second call to Load.
	ErrAlreadyLoaded = errors.New("cache already loaded")
)

// Persister is the durable side of the cache.
type Persister interface {
	LoadAll(ctx context.Context) (map[string][]schema.Record, error)
	Apply(ctx context.Context, muts []db.Mutation) error
}

// ChangeKind tells subscribers what happened to a row.
type ChangeKind string

const (
	ChangeSet    ChangeKind = "set"
	ChangeDelete ChangeKind = "delete"
)

// Change describes one committed row mutation.
type Change struct {
	Kind   ChangeKind
	Table  string
	Key    string
	Record schema.Record // copy of the new row; nil for deletes
}

// DefaultFlushInterval is the flusher's debounce period.
const DefaultFlushInterval = 250 * time.Millisecond

// Options configures New.
type Options struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

type rowKey struct {
	table string
	key   string
}

// Cache is the reactive in-memory store.
type Cache struct {
	persister Persister
	logger    *slog.Logger
	interval  time.Duration

	mu     sync.RWMutex
	tables map[string]map[string]schema.Record
	dirty  map[rowKey]uint64 // row -> mutation sequence
	seq    uint64
	loaded bool

	subsMu  sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	flushMu sync.Mutex // serializes flushes

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty cache backed by p. Call Load before use.
func New(p Persister, opts Options) *Cache {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	tables := make(map[string]map[string]schema.Record, len(schema.Tables))
	for _, t := range schema.Tables {
		tables[t] = make(map[string]schema.Record)
	}
	return &Cache{
		persister: p,
		logger:    opts.Logger,
		interval:  opts.FlushInterval,
		tables:    tables,
		dirty:     make(map[rowKey]uint64),
		subs:      make(map[int]func(Change)),
	}
}

// Load hydrates the cache from the durable store. It must be called exactly
// once, before any mutation.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return ErrAlreadyLoaded
	}
	all, err := c.persister.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}
	n := 0
	for table, rows := range all {
		m, ok := c.tables[table]
		if !ok {
			return fmt.Errorf("store returned unknown table %q", table)
		}
		for _, r := range rows {
			m[r.RecordKey()] = r
			n++
		}
	}
	c.loaded = true
	c.logger.Debug("cache loaded", "rows", n)
	return nil
}

// Get returns a copy of the row stored under key.
func (c *Cache) Get(table, key string) (schema.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(table, key)
}

func (c *Cache) getLocked(table, key string) (schema.Record, bool) {
	r, ok := c.tables[table][key]
	if !ok {
		return nil, false
	}
	return r.CloneRecord(), true
}

// Resolve returns the row for id, following a temporary-id alias when the
// row has since been rekeyed to its remote id.
func (c *Cache) Resolve(table, id string) (schema.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolveLocked(table, id)
}

func (c *Cache) resolveLocked(table, id string) (schema.Record, bool) {
	if r, ok := c.getLocked(table, id); ok {
		return r, true
	}
	a, ok := c.tables[schema.TableAliases][id].(*schema.IDAlias)
	if !ok || a.Table != table {
		return nil, false
	}
	return c.getLocked(table, a.RemoteID)
}

// ResolveID maps id through the alias table, returning id unchanged when no
// alias exists.
func (c *Cache) ResolveID(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a, ok := c.tables[schema.TableAliases][id].(*schema.IDAlias); ok {
		return a.RemoteID
	}
	return id
}

// Query returns copies of the rows of table accepted by pred (nil accepts
// all), ordered by less when given.
func (c *Cache) Query(table string, pred func(schema.Record) bool, less func(a, b schema.Record) bool) []schema.Record {
	c.mu.RLock()
	out := make([]schema.Record, 0, len(c.tables[table]))
	for _, r := range c.tables[table] {
		if pred == nil || pred(r) {
			out = append(out, r.CloneRecord())
		}
	}
	c.mu.RUnlock()

	if less != nil {
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

// Len returns the number of rows in table.
func (c *Cache) Len(table string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables[table])
}

// Set replaces the row at rec's key.
func (c *Cache) Set(rec schema.Record) error {
	return c.Batch(func(tx *Tx) error {
		tx.Set(rec)
		return nil
	})
}

// Delete removes a row. Deleting a missing row is a no-op.
func (c *Cache) Delete(table, key string) error {
	return c.Batch(func(tx *Tx) error {
		tx.Delete(table, key)
		return nil
	})
}

// Subscribe registers fn to be called after every committed mutation, in
// commit order. The returned func unregisters it.
func (c *Cache) Subscribe(fn func(Change)) (unsubscribe func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *Cache) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	c.subsMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subsMu.Unlock()

	for _, ch := range changes {
		for _, fn := range fns {
			fn(ch)
		}
	}
}
