package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CycleType distinguishes users with a predictable cycle from those without.
type CycleType string

const (
	CycleRegular   CycleType = "regular"
	CycleIrregular CycleType = "irregular"
)

// IsValid reports whether t is a known cycle type.
func (t CycleType) IsValid() bool {
	return t == CycleRegular || t == CycleIrregular
}

// Flow is the bleeding intensity recorded on a daily log.
type Flow string

const (
	FlowNone     Flow = "none"
	FlowLight    Flow = "light"
	FlowMedium   Flow = "medium"
	FlowHeavy    Flow = "heavy"
	FlowSpotting Flow = "spotting"
)

// IsValid reports whether f is a known flow intensity.
func (f Flow) IsValid() bool {
	switch f {
	case FlowNone, FlowLight, FlowMedium, FlowHeavy, FlowSpotting:
		return true
	}
	return false
}

// IsBleeding reports whether the flow counts as a period day.
func (f Flow) IsBleeding() bool {
	return f == FlowLight || f == FlowMedium || f == FlowHeavy
}

// ContraceptiveMethod is the method declared during onboarding.
type ContraceptiveMethod string

const (
	ContraceptiveNone      ContraceptiveMethod = "none"
	ContraceptivePill      ContraceptiveMethod = "pill"
	ContraceptiveIUD       ContraceptiveMethod = "iud"
	ContraceptiveImplant   ContraceptiveMethod = "implant"
	ContraceptiveInjection ContraceptiveMethod = "injection"
	ContraceptiveCondom    ContraceptiveMethod = "condom"
	ContraceptivePatch     ContraceptiveMethod = "patch"
	ContraceptiveRing      ContraceptiveMethod = "ring"
	ContraceptiveOther     ContraceptiveMethod = "other"
)

// IsValid reports whether m is a known contraceptive method.
func (m ContraceptiveMethod) IsValid() bool {
	switch m {
	case ContraceptiveNone, ContraceptivePill, ContraceptiveIUD, ContraceptiveImplant,
		ContraceptiveInjection, ContraceptiveCondom, ContraceptivePatch, ContraceptiveRing,
		ContraceptiveOther:
		return true
	}
	return false
}

// Operation is the kind of mutation recorded in the sync queue.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsValid reports whether op is a known queue operation.
func (op Operation) IsValid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// Frequency is how often automatic sync runs.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// DefaultFrequency is used until the user picks one.
const DefaultFrequency = FrequencyDaily

// ParseFrequency converts s to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("invalid sync frequency %q (want daily, weekly or monthly)", s)
	}
	return f, nil
}

// IsValid reports whether f is a known frequency.
func (f Frequency) IsValid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// Interval returns the minimum time between automatic syncs.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// DateLayout is the storage and wire format of calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day, formatted YYYY-MM-DD.
// The string form sorts chronologically.
type Date string

// ParseDate validates s and returns it as a Date. Remote values carrying a
// time component ("2024-10-04 00:00:00.000Z") are truncated to the date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// MustDate is ParseDate for constants; it panics on malformed input.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// DaysUntil returns the number of days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.Time().Sub(d.Time()).Hours() / 24)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d < other }

// IsZero reports whether d is unset.
func (d Date) IsZero() bool { return d == "" }

func (d Date) String() string { return string(d) }

// StringList is an ordered list of strings kept as a JSON array in a single
// column. Core logic only ever sees the slice.
type StringList []string

// Contains reports whether v is in the list.
func (l StringList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

// Clone returns a copy that never aliases l.
func (l StringList) Clone() StringList {
	if l == nil {
		return StringList{}
	}
	out := make(StringList, len(l))
	copy(out, l)
	return out
}

// MarshalJSON encodes a nil list as [] so payloads compare equal.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	data, err := l.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*l = StringList{}
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	if items == nil {
		items = []string{}
	}
	*l = items
	return nil
}

// TagSet is a set of short tags stored comma-joined (mood).
type TagSet []string

// ParseTagSet splits a comma-joined string, trimming blanks and duplicates.
func ParseTagSet(s string) TagSet {
	tags := TagSet{}
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		tag := strings.TrimSpace(part)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// String returns the comma-joined form.
func (t TagSet) String() string {
	return strings.Join(t, ",")
}

// Clone returns a copy that never aliases t.
func (t TagSet) Clone() TagSet {
	if t == nil {
		return TagSet{}
	}
	out := make(TagSet, len(t))
	copy(out, t)
	return out
}

// Value implements driver.Valuer.
func (t TagSet) Value() (driver.Value, error) {
	return t.String(), nil
}

// Scan implements sql.Scanner.
func (t *TagSet) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = TagSet{}
	case string:
		*t = ParseTagSet(v)
	case []byte:
		*t = ParseTagSet(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TagSet", src)
	}
	return nil
}

// MarshalJSON encodes the set in its comma-joined wire form.
func (t TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the comma-joined wire form.
func (t *TagSet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("mood must be a comma-joined string: %w", err)
	}
	*t = ParseTagSet(s)
	return nil
}

// Timestamps are stored as RFC 3339 with nanoseconds, always in UTC.
const TimestampLayout = time.RFC3339Nano

// FormatTimestamp renders t for storage.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// remoteTimestampLayouts are the formats the remote authority is known to use
// for its "updated" field.
var remoteTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000Z",
	"2006-01-02 15:04:05Z",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ParseTimestamp parses a stored or remote timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range remoteTimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func intPtr(v int) *int { return &v }

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}

func cloneDatePtr(p *Date) *Date {
	if p == nil {
		return nil
	}
	d := *p
	return &d
}

// IntPtr returns a pointer to v, for optional fields.
func IntPtr(v int) *int { return intPtr(v) }

// DatePtr returns a pointer to d, for optional fields.
func DatePtr(d Date) *Date { return &d }
