package schema

import "time"

// Keys stored in sync_settings.
const (
	SettingSyncFrequency = "sync_frequency"
	SettingLastSyncTime  = "last_sync_time"
	SettingSchemaVersion = "schema_version"
)

// Setting is a key/value row of sync_settings.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Setting) TableName() string { return TableSettings }
func (s *Setting) RecordKey() string { return s.Key }

// CloneRecord implements Record.
func (s *Setting) CloneRecord() Record {
	c := *s
	return &c
}

// IDAlias keeps a temporary id resolvable after the record was rekeyed to the
// id assigned by the remote authority.
type IDAlias struct {
	TempID    string    `json:"temp_id"`
	RemoteID  string    `json:"remote_id"`
	Table     string    `json:"table_name"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *IDAlias) TableName() string { return TableAliases }
func (a *IDAlias) RecordKey() string { return a.TempID }

// CloneRecord implements Record.
func (a *IDAlias) CloneRecord() Record {
	c := *a
	return &c
}
