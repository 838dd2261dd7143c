package features

import (
	"time"
)

// Cadence names how a forecast index was derived.
type Cadence string

const (
	CadenceFixed       Cadence = "fixed"
	CadenceBusinessDay Cadence = "business_day"
	CadenceLastStep    Cadence = "last_step"
	CadencePositional  Cadence = "positional"
	CadenceHoldout     Cadence = "holdout"
)

// minBusinessDayShare is the share of gaps that must be exactly one business
// day for a series to be read as a trading calendar with holidays.
const minBusinessDayShare = 0.9

// maxHolidayGap is the longest run of skipped weekdays tolerated between bars.
const maxHolidayGap = 3

// ForecastIndex labels the H forecasted steps.
type ForecastIndex struct {
	Dates      []time.Time // nil when Positional
	Positional bool
	Cadence    Cadence
	Len        int
}

// InferForecastIndex builds horizon future labels after the last date. Fallback
// order: a fixed regular step, a business-day calendar, the last observed step,
// and finally a positional 0..horizon-1 index when dates carry no order.
func InferForecastIndex(dates []time.Time, horizon int) ForecastIndex {
	if horizon <= 0 {
		return ForecastIndex{Cadence: CadencePositional, Positional: true}
	}
	if !chronological(dates) {
		return ForecastIndex{Cadence: CadencePositional, Positional: true, Len: horizon}
	}

	last := dates[len(dates)-1]
	if step, ok := fixedStep(dates); ok {
		return ForecastIndex{Dates: stepDates(last, step, horizon), Cadence: CadenceFixed, Len: horizon}
	}
	if isBusinessDaily(dates) {
		return ForecastIndex{Dates: NextBusinessDays(last, horizon), Cadence: CadenceBusinessDay, Len: horizon}
	}
	step := last.Sub(dates[len(dates)-2])
	return ForecastIndex{Dates: stepDates(last, step, horizon), Cadence: CadenceLastStep, Len: horizon}
}

// HoldoutIndex labels a backtest with the real held-out dates.
func HoldoutIndex(dates []time.Time, undated bool) ForecastIndex {
	if undated {
		return ForecastIndex{Cadence: CadencePositional, Positional: true, Len: len(dates)}
	}
	out := make([]time.Time, len(dates))
	copy(out, dates)
	return ForecastIndex{Dates: out, Cadence: CadenceHoldout, Len: len(dates)}
}

// NextBusinessDays returns the n weekdays following from.
func NextBusinessDays(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := from
	for len(out) < n {
		d = d.AddDate(0, 0, 1)
		if isWeekday(d) {
			out = append(out, d)
		}
	}
	return out
}

// CalendarDays returns the n consecutive days following from.
func CalendarDays(from time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = from.AddDate(0, 0, i+1)
	}
	return out
}

func chronological(dates []time.Time) bool {
	if len(dates) < 2 {
		return false
	}
	for i, d := range dates {
		if d.IsZero() {
			return false
		}
		if i > 0 && !d.After(dates[i-1]) {
			return false
		}
	}
	return true
}

func fixedStep(dates []time.Time) (time.Duration, bool) {
	step := dates[1].Sub(dates[0])
	for i := 2; i < len(dates); i++ {
		if dates[i].Sub(dates[i-1]) != step {
			return 0, false
		}
	}
	return step, step > 0
}

// isBusinessDaily accepts weekday-only daily series where almost every gap is
// one business day and the rest skip at most a few weekdays.
func isBusinessDaily(dates []time.Time) bool {
	exact := 0
	for i, d := range dates {
		if !isWeekday(d) {
			return false
		}
		if i == 0 {
			continue
		}
		skipped := weekdaysBetween(dates[i-1], d)
		if skipped < 0 || skipped > maxHolidayGap {
			return false
		}
		if skipped == 0 {
			exact++
		}
	}
	return float64(exact)/float64(len(dates)-1) >= minBusinessDayShare
}

// weekdaysBetween counts weekdays strictly between a and b, or -1 when b is
// not on a later day or the gap is not a whole number of days.
func weekdaysBetween(a, b time.Time) int {
	diff := b.Sub(a)
	if diff <= 0 || diff%(24*time.Hour) != 0 {
		return -1
	}
	n := 0
	for d := a.AddDate(0, 0, 1); d.Before(b); d = d.AddDate(0, 0, 1) {
		if isWeekday(d) {
			n++
		}
	}
	return n
}

func isWeekday(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func stepDates(last time.Time, step time.Duration, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = last.Add(step * time.Duration(i+1))
	}
	return out
}
