// Package predict estimates upcoming periods from a profile's declared cycle
// and the most recent cycle start.
//
// Regular profiles predict a single day from the average cycle length.
// Irregular profiles predict a window spanning the declared min/max range,
// with the midpoint as the single best guess. A cycle's recorded delay pushes
// every date it produces later by that many days.
package predict

import (
	"errors"
	"fmt"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// Fallbacks used when the profile leaves a length unset.
const (
	DefaultCycleLength = 28
	DefaultRangeMin    = 21
	DefaultRangeMax    = 35

	// lutealDays is the usual span from ovulation to the next period.
	lutealDays = 14
)

// ErrNoStart is returned when there is no cycle to predict from.
var ErrNoStart = errors.New("no cycle start to predict from")

// Prediction is the outlook for the cycle after one starting at Start.
type Prediction struct {
	Start schema.Date `json:"start" yaml:"start"`
	Delay int         `json:"delay" yaml:"delay"`

	// NextStart is the single best guess; Earliest and Latest bound it.
	// For regular cycles all three are equal.
	NextStart schema.Date `json:"next_start" yaml:"next_start"`
	Earliest  schema.Date `json:"earliest" yaml:"earliest"`
	Latest    schema.Date `json:"latest" yaml:"latest"`

	PeriodEnd    schema.Date `json:"period_end" yaml:"period_end"`
	Ovulation    schema.Date `json:"ovulation" yaml:"ovulation"`
	FertileStart schema.Date `json:"fertile_start" yaml:"fertile_start"`
	FertileEnd   schema.Date `json:"fertile_end" yaml:"fertile_end"`

	Irregular bool `json:"irregular" yaml:"irregular"`
}

// lengths returns the shortest, typical and longest cycle for p.
func lengths(p *schema.Profile) (lo, mid, hi int) {
	if p == nil {
		return DefaultCycleLength, DefaultCycleLength, DefaultCycleLength
	}
	if p.CycleType == schema.CycleIrregular {
		lo, hi = DefaultRangeMin, DefaultRangeMax
		if p.CycleRangeMin != nil {
			lo = *p.CycleRangeMin
		}
		if p.CycleRangeMax != nil {
			hi = *p.CycleRangeMax
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return lo, (lo + hi) / 2, hi
	}
	n := DefaultCycleLength
	if p.AverageCycleLength != nil {
		n = *p.AverageCycleLength
	}
	return n, n, n
}

func periodLength(p *schema.Profile) int {
	if p == nil || p.PeriodLength < schema.MinPeriodLength {
		return 5
	}
	return p.PeriodLength
}

// Predict computes the outlook for the cycle that starts on start, shifted
// by delay days.
func Predict(p *schema.Profile, start schema.Date, delay int) (Prediction, error) {
	if start.IsZero() {
		return Prediction{}, ErrNoStart
	}
	if _, err := schema.ParseDate(string(start)); err != nil {
		return Prediction{}, fmt.Errorf("invalid cycle start: %w", err)
	}
	if delay < 0 {
		return Prediction{}, fmt.Errorf("delay must not be negative (got %d)", delay)
	}

	lo, mid, hi := lengths(p)
	next := start.AddDays(mid + delay)
	ovulation := next.AddDays(-lutealDays)
	return Prediction{
		Start:        start,
		Delay:        delay,
		NextStart:    next,
		Earliest:     start.AddDays(lo + delay),
		Latest:       start.AddDays(hi + delay),
		PeriodEnd:    next.AddDays(periodLength(p) - 1),
		Ovulation:    ovulation,
		FertileStart: ovulation.AddDays(-4),
		FertileEnd:   ovulation.AddDays(1),
		Irregular:    lo != hi,
	}, nil
}

// ForCycle predicts from a recorded cycle, honouring its delay.
func ForCycle(p *schema.Profile, c *schema.Cycle) (Prediction, error) {
	if c == nil {
		return Prediction{}, ErrNoStart
	}
	return Predict(p, c.StartDate, c.Delay)
}

// NextPeriodStart returns the best guess for the period after lastStart.
func NextPeriodStart(p *schema.Profile, lastStart schema.Date) (schema.Date, error) {
	pr, err := Predict(p, lastStart, 0)
	if err != nil {
		return "", err
	}
	return pr.NextStart, nil
}

// Window returns the earliest and latest expected start of the period after
// lastStart.
func Window(p *schema.Profile, lastStart schema.Date) (earliest, latest schema.Date, err error) {
	pr, err := Predict(p, lastStart, 0)
	if err != nil {
		return "", "", err
	}
	return pr.Earliest, pr.Latest, nil
}

// DelayDays returns how many days past the latest expected start today is,
// or 0 when the period is not yet late.
func DelayDays(p *schema.Profile, lastStart, today schema.Date) (int, error) {
	_, latest, err := Window(p, lastStart)
	if err != nil {
		return 0, err
	}
	if n := latest.DaysUntil(today); n > 0 {
		return n, nil
	}
	return 0, nil
}
