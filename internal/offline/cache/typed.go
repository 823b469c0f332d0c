package cache

import (
	"slices"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// Get returns the row under key as a T.
func Get[T schema.Record](c *Cache, table, key string) (T, bool) {
	var zero T
	r, ok := c.Get(table, key)
	if !ok {
		return zero, false
	}
	v, ok := r.(T)
	return v, ok
}

// Resolve is Cache.Resolve returning a T.
func Resolve[T schema.Record](c *Cache, table, id string) (T, bool) {
	var zero T
	r, ok := c.Resolve(table, id)
	if !ok {
		return zero, false
	}
	v, ok := r.(T)
	return v, ok
}

// Query returns the rows of table of type T accepted by pred (nil accepts
// all), sorted by cmp when given.
func Query[T schema.Record](c *Cache, table string, pred func(T) bool, cmp func(a, b T) int) []T {
	rows := c.Query(table, func(r schema.Record) bool {
		v, ok := r.(T)
		return ok && (pred == nil || pred(v))
	}, nil)

	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(T))
	}
	if cmp != nil {
		slices.SortStableFunc(out, cmp)
	}
	return out
}

// TxQuery is Query within a batch.
func TxQuery[T schema.Record](tx *Tx, table string, pred func(T) bool) []T {
	rows := tx.Query(table, func(r schema.Record) bool {
		v, ok := r.(T)
		return ok && (pred == nil || pred(v))
	})
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(T))
	}
	return out
}
