package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Table names of the on-device store.
const (
	TableProfiles  = "profiles"
	TableDailyLogs = "daily_logs"
	TableCycles    = "cycles"
	TableQueue     = "sync_queue"
	TableSettings  = "sync_settings"
	TableAliases   = "id_aliases"
)

// Tables lists every table in load order.
var Tables = []string{
	TableProfiles,
	TableDailyLogs,
	TableCycles,
	TableQueue,
	TableSettings,
	TableAliases,
}

// EntityTables lists the tables that are synchronized with the remote authority.
var EntityTables = []string{TableProfiles, TableDailyLogs, TableCycles}

// IsEntityTable reports whether table is one of the synced record tables.
func IsEntityTable(table string) bool {
	for _, t := range EntityTables {
		if t == table {
			return true
		}
	}
	return false
}

// Record is implemented by every row type stored in the cache.
type Record interface {
	// TableName returns the table the row belongs to.
	TableName() string
	// RecordKey returns the row's primary key within its table.
	RecordKey() string
	// CloneRecord returns a deep copy of the row.
	CloneRecord() Record
}

// Entity is a Record that is synchronized with the remote authority.
type Entity interface {
	Record

	// Owner returns the owning user id.
	Owner() string
	// IsSynced reports whether the row matches what the remote last acknowledged.
	IsSynced() bool
	// LastModified returns the updated_at timestamp used for conflict comparison.
	LastModified() time.Time
	// ToRemote returns the remote-shaped JSON payload for the row.
	ToRemote() ([]byte, error)
}

const temporaryIDPrefix = "local_"

// NewTemporaryID returns a locally-assigned id for a record that has not
// been pushed yet.
func NewTemporaryID() string {
	return temporaryIDPrefix + uuid.NewString()
}

// IsTemporaryID reports whether id was assigned locally.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, temporaryIDPrefix)
}
