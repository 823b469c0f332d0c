package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxNotesLength bounds the free-text notes of a daily log.
const MaxNotesLength = 2000

// DailyLog is what the user recorded for one calendar date. There is at most
// one log per (user, date).
type DailyLog struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Date   Date   `json:"date"`

	Symptoms StringList `json:"symptoms"`
	Flow     Flow       `json:"flow"`
	Mood     TagSet     `json:"mood"`
	Notes    string     `json:"notes,omitempty"`

	Synced    bool      `json:"synced"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *DailyLog) TableName() string { return TableDailyLogs }
func (l *DailyLog) RecordKey() string { return l.ID }
func (l *DailyLog) Owner() string     { return l.UserID }
func (l *DailyLog) IsSynced() bool    { return l.Synced }

func (l *DailyLog) LastModified() time.Time { return l.UpdatedAt }

// CloneRecord implements Record.
func (l *DailyLog) CloneRecord() Record { return l.Clone() }

// Clone returns a deep copy.
func (l *DailyLog) Clone() *DailyLog {
	c := *l
	c.Symptoms = l.Symptoms.Clone()
	c.Mood = l.Mood.Clone()
	return &c
}

// SetDefaults applies default values for optional fields.
func (l *DailyLog) SetDefaults() {
	if l.Flow == "" {
		l.Flow = FlowNone
	}
	if l.Symptoms == nil {
		l.Symptoms = StringList{}
	}
	if l.Mood == nil {
		l.Mood = TagSet{}
	}
}

// Validate checks if the DailyLog has valid field values.
func (l *DailyLog) Validate() error {
	if l.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if _, err := ParseDate(string(l.Date)); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if !l.Flow.IsValid() {
		return fmt.Errorf("invalid flow %q", l.Flow)
	}
	if len(l.Notes) > MaxNotesLength {
		return fmt.Errorf("notes must be %d characters or less (got %d)", MaxNotesLength, len(l.Notes))
	}
	return nil
}

type remoteDailyLog struct {
	User     string     `json:"user"`
	Date     Date       `json:"date"`
	Symptoms StringList `json:"symptoms"`
	Flow     Flow       `json:"flow"`
	Mood     TagSet     `json:"mood"`
	Notes    string     `json:"notes"`
}

// ToRemote returns the payload sent to the remote "daily_logs" collection.
func (l *DailyLog) ToRemote() ([]byte, error) {
	return json.Marshal(remoteDailyLog{
		User:     l.UserID,
		Date:     l.Date,
		Symptoms: l.Symptoms,
		Flow:     l.Flow,
		Mood:     l.Mood,
		Notes:    l.Notes,
	})
}

// DailyLogFromRemote builds a synced DailyLog from a remote record.
func DailyLogFromRemote(id string, updated time.Time, data []byte) (*DailyLog, error) {
	var r remoteDailyLog
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode remote daily log %s: %w", id, err)
	}
	date, err := ParseDate(string(r.Date))
	if err != nil {
		return nil, fmt.Errorf("remote daily log %s: %w", id, err)
	}
	l := &DailyLog{
		ID:        id,
		UserID:    r.User,
		Date:      date,
		Symptoms:  r.Symptoms.Clone(),
		Flow:      r.Flow,
		Mood:      r.Mood.Clone(),
		Notes:     r.Notes,
		Synced:    true,
		UpdatedAt: updated.UTC(),
	}
	l.SetDefaults()
	return l, nil
}
