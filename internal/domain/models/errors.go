package models

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotTrained is returned when a forecast is requested before training.
	ErrModelNotTrained = errors.New("model is not trained")
	// ErrInvalidSeries is returned for series that break ordering invariants.
	ErrInvalidSeries = errors.New("invalid price series")
	// ErrUndatedOutput is returned when a positional forecast is offered to a dated store.
	ErrUndatedOutput = errors.New("forecast output has no dates")
	// ErrTickerExists is returned when adding an already tracked ticker.
	ErrTickerExists = errors.New("ticker already tracked")
	// ErrTickerNotFound is returned when a ticker has no market data.
	ErrTickerNotFound = errors.New("ticker not found")
)

// InsufficientDataError reports that a series is too short or too dirty for the requested stage.
type InsufficientDataError struct {
	Stage  string
	Need   int
	Have   int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: insufficient data: %s (need > %d, have %d)", e.Stage, e.Reason, e.Need, e.Have)
	}
	return fmt.Sprintf("%s: insufficient data: need > %d rows, have %d", e.Stage, e.Need, e.Have)
}

// IsInsufficientData reports whether err wraps an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var e *InsufficientDataError
	return errors.As(err, &e)
}
