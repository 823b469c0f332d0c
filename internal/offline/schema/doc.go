// Package schema defines the fixed-schema records persisted by the offline store.
//
// # Overview
//
// Every table of the on-device store has a matching struct here. Rows are
// plain values: the cache clones them on the way in and out, the durable
// store maps them to columns, and the sync engine maps them to the remote
// authority's wire format.
//
// # Tables
//
//   - profiles       one row per user (Profile)
//   - daily_logs     one row per (user, calendar date) (DailyLog)
//   - cycles         one row per detected period (Cycle)
//   - sync_queue     pending outbound mutations (QueueEntry)
//   - sync_settings  watermark and sync frequency (Setting)
//   - id_aliases     temporary id to remote id mapping (IDAlias)
//
// # Remote Field Names
//
// Local columns use snake_case, the remote authority uses camelCase and
// calls the owner "user" instead of "user_id":
//
//	local            remote
//	user_id          user
//	start_date       startDate
//	end_date         endDate
//	cycle_type       cycleType
//	updated_at       updated
//
// The translation lives in one place per entity (ToRemote / XFromRemote),
// never in ad hoc map lookups.
//
// # Lists in Columns
//
// Symptoms and PCOS lists are StringList values in Go. They only become JSON
// text at the storage boundary (StringList implements sql.Scanner and
// driver.Valuer). Mood is a TagSet, stored comma-joined.
//
// # Identifiers
//
// Records created offline get a temporary id (NewTemporaryID, "local_"
// prefix). After the first successful push the remote-assigned id replaces
// it and an IDAlias row keeps the old id resolvable.
package schema
