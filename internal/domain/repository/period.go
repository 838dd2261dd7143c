package repository

import "time"

// Period is a lookback window for daily history.
type Period string

const (
	Period1mo Period = "1mo"
	Period3mo Period = "3mo"
	Period6mo Period = "6mo"
	Period1y  Period = "1y"
	Period2y  Period = "2y"
	Period5y  Period = "5y"
)

// IsValidPeriod returns true if p is a supported period.
func IsValidPeriod(p Period) bool {
	switch p {
	case Period1mo, Period3mo, Period6mo, Period1y, Period2y, Period5y:
		return true
	default:
		return false
	}
}

// DefaultPeriod returns the default lookback.
func DefaultPeriod() Period { return Period2y }

// NormalizePeriod converts raw string to a valid period (or default).
func NormalizePeriod(s string) Period {
	if s == "" {
		return DefaultPeriod()
	}
	p := Period(s)
	if IsValidPeriod(p) {
		return p
	}
	return DefaultPeriod()
}

// Start returns the first day covered by p when looking back from end.
func (p Period) Start(end time.Time) time.Time {
	switch p {
	case Period1mo:
		return end.AddDate(0, -1, 0)
	case Period3mo:
		return end.AddDate(0, -3, 0)
	case Period6mo:
		return end.AddDate(0, -6, 0)
	case Period1y:
		return end.AddDate(-1, 0, 0)
	case Period5y:
		return end.AddDate(-5, 0, 0)
	default:
		return end.AddDate(-2, 0, 0)
	}
}
