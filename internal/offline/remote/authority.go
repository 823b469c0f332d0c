// Package remote defines the contract of the remote authority the sync
// engine reconciles against, plus two implementations: an HTTP client for a
// PocketBase-style REST API and an in-memory authority used by tests, the
// load simulator and offline demos.
//
// Collections are named after the local entity tables ("profiles",
// "daily_logs", "cycles"). Payloads use the remote field names produced by
// the schema package's ToRemote methods.
package remote

import (
	"context"
	"encoding/json"
	"time"
)

// Record is a record as returned by the remote authority.
type Record struct {
	// ID is the remote-assigned identifier.
	ID string
	// Updated is the server-side modification time.
	Updated time.Time
	// Data is the record's JSON body in remote field names.
	Data json.RawMessage
}

// Authority is the collection-style CRUD contract of the remote side.
//
// Implementations must be safe for concurrent use.
type Authority interface {
	// Create stores data as a new record and returns it with its assigned
	// id and updated time.
	Create(ctx context.Context, collection string, data []byte) (Record, error)

	// Update replaces the record's fields with data.
	Update(ctx context.Context, collection, id string, data []byte) (Record, error)

	// Delete removes the record.
	Delete(ctx context.Context, collection, id string) error

	// List returns every record of collection owned by userID.
	List(ctx context.Context, collection, userID string) ([]Record, error)
}

// ownerOf extracts the "user" field of a payload.
func ownerOf(data []byte) (string, error) {
	var body struct {
		User string `json:"user"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", err
	}
	return body.User, nil
}
