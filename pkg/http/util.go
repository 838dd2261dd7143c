package http

import (
	"time"

	xutil "StockCast/pkg/util"
)

// ParseTime accepts a calendar date, RFC3339, or unix seconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }

// ParseTimeRange parses optional from/to query values into a TimeRange.
func ParseTimeRange(from, to string) (TimeRange, *AppError) {
	var r TimeRange
	if from != "" {
		t, ok := xutil.ParseTime(from)
		if !ok {
			return r, BadRequestErrorf("invalid from: %q", from)
		}
		r.From = &t
	}
	if to != "" {
		t, ok := xutil.ParseTime(to)
		if !ok {
			return r, BadRequestErrorf("invalid to: %q", to)
		}
		r.To = &t
	}
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return r, BadRequestErrorf("to must not be before from")
	}
	return r, nil
}
