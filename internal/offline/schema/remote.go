package schema

import (
	"bytes"
	"fmt"
	"slices"
	"time"
)

// EntityFromRemote decodes a remote record of the given table into its local
// representation, marked synced.
func EntityFromRemote(table, id string, updated time.Time, data []byte) (Entity, error) {
	switch table {
	case TableProfiles:
		return ProfileFromRemote(id, updated, data)
	case TableDailyLogs:
		return DailyLogFromRemote(id, updated, data)
	case TableCycles:
		return CycleFromRemote(id, updated, data)
	}
	return nil, fmt.Errorf("table %q is not synced", table)
}

// ContentEqual reports whether a and b carry the same content, ignoring id,
// synced flag, timestamps and the order of list fields.
func ContentEqual(a, b Entity) bool {
	if a.TableName() != b.TableName() {
		return false
	}
	pa, err := canonical(a).ToRemote()
	if err != nil {
		return false
	}
	pb, err := canonical(b).ToRemote()
	if err != nil {
		return false
	}
	return bytes.Equal(pa, pb)
}

// canonical returns e with its unordered lists sorted, so that order alone
// never counts as a change.
func canonical(e Entity) Entity {
	switch v := e.(type) {
	case *Profile:
		c := v.Clone()
		slices.Sort(c.PCOSSymptoms)
		slices.Sort(c.PCOSTreatment)
		return c
	case *DailyLog:
		c := v.Clone()
		slices.Sort(c.Symptoms)
		slices.Sort(c.Mood)
		return c
	}
	return e
}

// WithIdentity returns a copy of e carrying id, synced and updated_at.
func WithIdentity(e Entity, id string, synced bool, updated time.Time) Entity {
	switch v := e.(type) {
	case *Profile:
		c := v.Clone()
		c.ID, c.Synced, c.UpdatedAt = id, synced, updated
		return c
	case *DailyLog:
		c := v.Clone()
		c.ID, c.Synced, c.UpdatedAt = id, synced, updated
		return c
	case *Cycle:
		c := v.Clone()
		c.ID, c.Synced, c.UpdatedAt = id, synced, updated
		return c
	}
	panic(fmt.Sprintf("schema: unknown entity type %T", e))
}
