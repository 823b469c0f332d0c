package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Cycle is one menstrual cycle, identified by its period start date. A nil
// EndDate marks the cycle as open.
type Cycle struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	StartDate Date   `json:"start_date"`
	EndDate   *Date  `json:"end_date,omitempty"`
	Delay     int    `json:"delay"`

	Synced    bool      `json:"synced"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Cycle) TableName() string { return TableCycles }
func (c *Cycle) RecordKey() string { return c.ID }
func (c *Cycle) Owner() string     { return c.UserID }
func (c *Cycle) IsSynced() bool    { return c.Synced }

func (c *Cycle) LastModified() time.Time { return c.UpdatedAt }

// CloneRecord implements Record.
func (c *Cycle) CloneRecord() Record { return c.Clone() }

// Clone returns a deep copy.
func (c *Cycle) Clone() *Cycle {
	cp := *c
	cp.EndDate = cloneDatePtr(c.EndDate)
	return &cp
}

// IsOpen reports whether the period end has not been recorded yet.
func (c *Cycle) IsOpen() bool { return c.EndDate == nil }

// Validate checks the cycle's dates and delay.
func (c *Cycle) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if _, err := ParseDate(string(c.StartDate)); err != nil {
		return fmt.Errorf("start_date: %w", err)
	}
	if c.EndDate != nil {
		if _, err := ParseDate(string(*c.EndDate)); err != nil {
			return fmt.Errorf("end_date: %w", err)
		}
		if c.EndDate.Before(c.StartDate) {
			return fmt.Errorf("end_date %s is before start_date %s", *c.EndDate, c.StartDate)
		}
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0 (got %d)", c.Delay)
	}
	return nil
}

type remoteCycle struct {
	User      string `json:"user"`
	StartDate Date   `json:"startDate"`
	EndDate   *Date  `json:"endDate"`
	Delay     int    `json:"delay"`
}

// ToRemote returns the payload sent to the remote "cycles" collection.
func (c *Cycle) ToRemote() ([]byte, error) {
	return json.Marshal(remoteCycle{
		User:      c.UserID,
		StartDate: c.StartDate,
		EndDate:   c.EndDate,
		Delay:     c.Delay,
	})
}

// CycleFromRemote builds a synced Cycle from a remote record.
func CycleFromRemote(id string, updated time.Time, data []byte) (*Cycle, error) {
	var r remoteCycle
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode remote cycle %s: %w", id, err)
	}
	start, err := ParseDate(string(r.StartDate))
	if err != nil {
		return nil, fmt.Errorf("remote cycle %s: %w", id, err)
	}
	c := &Cycle{
		ID:        id,
		UserID:    r.User,
		StartDate: start,
		Delay:     r.Delay,
		Synced:    true,
		UpdatedAt: updated.UTC(),
	}
	// The remote stores an unset date as "".
	if r.EndDate != nil && *r.EndDate != "" {
		end, err := ParseDate(string(*r.EndDate))
		if err != nil {
			return nil, fmt.Errorf("remote cycle %s: %w", id, err)
		}
		c.EndDate = &end
	}
	return c, nil
}
