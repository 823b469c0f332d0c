package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Bounds accepted for cycle and period lengths, in days.
const (
	MinCycleLength  = 15
	MaxCycleLength  = 90
	MinPeriodLength = 1
	MaxPeriodLength = 15

	DefaultCycleLength  = 28
	DefaultPeriodLength = 5
)

// Profile holds the onboarding answers of a single user. There is at most
// one profile per user; it is overwritten, never hard-deleted.
type Profile struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Name      string `json:"name"`
	BirthDate *Date  `json:"birth_date,omitempty"`

	// Regular cycles use AverageCycleLength, irregular ones the min/max range.
	CycleType          CycleType `json:"cycle_type"`
	AverageCycleLength *int      `json:"average_cycle_length,omitempty"`
	CycleRangeMin      *int      `json:"cycle_range_min,omitempty"`
	CycleRangeMax      *int      `json:"cycle_range_max,omitempty"`
	PeriodLength       int       `json:"period_length"`

	// Reproductive health
	HasPCOS             bool                `json:"has_pcos"`
	PCOSSymptoms        StringList          `json:"pcos_symptoms"`
	PCOSTreatment       StringList          `json:"pcos_treatment"`
	ContraceptiveMethod ContraceptiveMethod `json:"contraceptive_method"`
	WantsPregnancy      bool                `json:"wants_pregnancy"`

	Synced    bool      `json:"synced"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Profile) TableName() string { return TableProfiles }
func (p *Profile) RecordKey() string { return p.ID }
func (p *Profile) Owner() string     { return p.UserID }
func (p *Profile) IsSynced() bool    { return p.Synced }

func (p *Profile) LastModified() time.Time { return p.UpdatedAt }

// CloneRecord implements Record.
func (p *Profile) CloneRecord() Record { return p.Clone() }

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	c := *p
	c.BirthDate = cloneDatePtr(p.BirthDate)
	c.AverageCycleLength = cloneIntPtr(p.AverageCycleLength)
	c.CycleRangeMin = cloneIntPtr(p.CycleRangeMin)
	c.CycleRangeMax = cloneIntPtr(p.CycleRangeMax)
	c.PCOSSymptoms = p.PCOSSymptoms.Clone()
	c.PCOSTreatment = p.PCOSTreatment.Clone()
	return &c
}

// SetDefaults fills optional fields left empty by onboarding.
func (p *Profile) SetDefaults() {
	if p.CycleType == "" {
		p.CycleType = CycleRegular
	}
	if p.CycleType == CycleRegular && p.AverageCycleLength == nil {
		p.AverageCycleLength = intPtr(DefaultCycleLength)
	}
	if p.PeriodLength == 0 {
		p.PeriodLength = DefaultPeriodLength
	}
	if p.ContraceptiveMethod == "" {
		p.ContraceptiveMethod = ContraceptiveNone
	}
	if p.PCOSSymptoms == nil {
		p.PCOSSymptoms = StringList{}
	}
	if p.PCOSTreatment == nil {
		p.PCOSTreatment = StringList{}
	}
}

// Validate checks the profile's field values and the cycle-type dependent fields.
func (p *Profile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !p.CycleType.IsValid() {
		return fmt.Errorf("invalid cycle_type %q", p.CycleType)
	}
	switch p.CycleType {
	case CycleRegular:
		if p.AverageCycleLength == nil {
			return fmt.Errorf("average_cycle_length is required for regular cycles")
		}
		if err := checkCycleLength("average_cycle_length", *p.AverageCycleLength); err != nil {
			return err
		}
	case CycleIrregular:
		if p.CycleRangeMin == nil || p.CycleRangeMax == nil {
			return fmt.Errorf("cycle_range_min and cycle_range_max are required for irregular cycles")
		}
		if err := checkCycleLength("cycle_range_min", *p.CycleRangeMin); err != nil {
			return err
		}
		if err := checkCycleLength("cycle_range_max", *p.CycleRangeMax); err != nil {
			return err
		}
		if *p.CycleRangeMin > *p.CycleRangeMax {
			return fmt.Errorf("cycle_range_min (%d) must not exceed cycle_range_max (%d)", *p.CycleRangeMin, *p.CycleRangeMax)
		}
	}
	if p.PeriodLength < MinPeriodLength || p.PeriodLength > MaxPeriodLength {
		return fmt.Errorf("period_length must be between %d and %d (got %d)", MinPeriodLength, MaxPeriodLength, p.PeriodLength)
	}
	if !p.ContraceptiveMethod.IsValid() {
		return fmt.Errorf("invalid contraceptive_method %q", p.ContraceptiveMethod)
	}
	if len(strings.TrimSpace(p.Name)) > 200 {
		return fmt.Errorf("name must be 200 characters or less")
	}
	return nil
}

func checkCycleLength(field string, v int) error {
	if v < MinCycleLength || v > MaxCycleLength {
		return fmt.Errorf("%s must be between %d and %d (got %d)", field, MinCycleLength, MaxCycleLength, v)
	}
	return nil
}

type remoteProfile struct {
	User                string              `json:"user"`
	Name                string              `json:"name"`
	BirthDate           *Date               `json:"birthDate"`
	CycleType           CycleType           `json:"cycleType"`
	AverageCycleLength  *int                `json:"averageCycleLength"`
	CycleRangeMin       *int                `json:"cycleRangeMin"`
	CycleRangeMax       *int                `json:"cycleRangeMax"`
	PeriodLength        int                 `json:"periodLength"`
	HasPCOS             bool                `json:"hasPcos"`
	PCOSSymptoms        StringList          `json:"pcosSymptoms"`
	PCOSTreatment       StringList          `json:"pcosTreatment"`
	ContraceptiveMethod ContraceptiveMethod `json:"contraceptiveMethod"`
	WantsPregnancy      bool                `json:"wantsPregnancy"`
}

// ToRemote returns the payload sent to the remote "profiles" collection.
func (p *Profile) ToRemote() ([]byte, error) {
	return json.Marshal(remoteProfile{
		User:                p.UserID,
		Name:                p.Name,
		BirthDate:           p.BirthDate,
		CycleType:           p.CycleType,
		AverageCycleLength:  p.AverageCycleLength,
		CycleRangeMin:       p.CycleRangeMin,
		CycleRangeMax:       p.CycleRangeMax,
		PeriodLength:        p.PeriodLength,
		HasPCOS:             p.HasPCOS,
		PCOSSymptoms:        p.PCOSSymptoms,
		PCOSTreatment:       p.PCOSTreatment,
		ContraceptiveMethod: p.ContraceptiveMethod,
		WantsPregnancy:      p.WantsPregnancy,
	})
}

// ProfileFromRemote builds a synced Profile from a remote record.
func ProfileFromRemote(id string, updated time.Time, data []byte) (*Profile, error) {
	var r remoteProfile
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode remote profile %s: %w", id, err)
	}
	if r.BirthDate != nil && *r.BirthDate == "" {
		r.BirthDate = nil
	}
	if r.BirthDate != nil {
		d, err := ParseDate(string(*r.BirthDate))
		if err != nil {
			return nil, fmt.Errorf("remote profile %s: %w", id, err)
		}
		r.BirthDate = &d
	}
	p := &Profile{
		ID:                  id,
		UserID:              r.User,
		Name:                r.Name,
		BirthDate:           r.BirthDate,
		CycleType:           r.CycleType,
		AverageCycleLength:  r.AverageCycleLength,
		CycleRangeMin:       r.CycleRangeMin,
		CycleRangeMax:       r.CycleRangeMax,
		PeriodLength:        r.PeriodLength,
		HasPCOS:             r.HasPCOS,
		PCOSSymptoms:        r.PCOSSymptoms.Clone(),
		PCOSTreatment:       r.PCOSTreatment.Clone(),
		ContraceptiveMethod: r.ContraceptiveMethod,
		WantsPregnancy:      r.WantsPregnancy,
		Synced:              true,
		UpdatedAt:           updated.UTC(),
	}
	p.SetDefaults()
	return p, nil
}
