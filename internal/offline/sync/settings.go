package sync

import (
	"fmt"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// Status is the sync summary shown to the user.
type Status struct {
	LastSyncTime time.Time        `json:"last_sync_time" yaml:"last_sync_time"`
	PendingItems int              `json:"pending_items" yaml:"pending_items"`
	Frequency    schema.Frequency `json:"frequency" yaml:"frequency"`
	State        string           `json:"state" yaml:"state"`
}

// Status returns the watermark, queue length and frequency.
func (e *Engine) Status() Status {
	return Status{
		LastSyncTime: e.LastSyncTime(),
		PendingItems: e.q.Len(),
		Frequency:    e.Frequency(),
		State:        e.State().String(),
	}
}

// LastSyncTime returns the watermark, zero if no pass ever pulled.
func (e *Engine) LastSyncTime() time.Time {
	s, ok := cache.Get[*schema.Setting](e.c, schema.TableSettings, schema.SettingLastSyncTime)
	if !ok || s.Value == "" {
		return time.Time{}
	}
	t, err := schema.ParseTimestamp(s.Value)
	if err != nil {
		e.logger.Warn("ignoring malformed sync watermark", "value", s.Value, "error", err)
		return time.Time{}
	}
	return t
}

// Frequency returns the configured sync frequency.
func (e *Engine) Frequency() schema.Frequency {
	s, ok := cache.Get[*schema.Setting](e.c, schema.TableSettings, schema.SettingSyncFrequency)
	if !ok {
		return schema.DefaultFrequency
	}
	f, err := schema.ParseFrequency(s.Value)
	if err != nil {
		return schema.DefaultFrequency
	}
	return f
}

// SetFrequency stores the sync frequency.
func (e *Engine) SetFrequency(f schema.Frequency) error {
	if !f.IsValid() {
		return fmt.Errorf("invalid sync frequency %q", f)
	}
	return e.putSetting(schema.SettingSyncFrequency, string(f))
}

func (e *Engine) setLastSyncTime(t time.Time) error {
	return e.putSetting(schema.SettingLastSyncTime, schema.FormatTimestamp(t))
}

func (e *Engine) putSetting(key, value string) error {
	return e.c.Set(&schema.Setting{Key: key, Value: value, UpdatedAt: e.now().UTC()})
}
