package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"StockCast/internal/domain/models"
)

// Prepared is a date-sorted close series with its first-difference changes attached.
type Prepared struct {
	Symbol    string
	Dates     []time.Time
	Close     []float64
	Changes   []float64 // Changes[0] is NaN
	AuxFields []string
	Aux       [][]float64 // Aux[t][j] is NaN when the field is missing at row t
	Dropped   int         // rows discarded for a missing close
	Undated   bool
}

// Len returns the number of usable rows.
func (p *Prepared) Len() int { return len(p.Close) }

// Prepare sorts a copy of the series ascending by date, drops rows without a
// close and computes change[t] = close[t] - close[t-1]. The caller's series is
// never modified.
func Prepare(series models.EnrichedSeries) (*Prepared, error) {
	bars := make([]models.EnrichedBar, len(series.Bars))
	copy(bars, series.Bars)

	undated, err := checkDates(bars)
	if err != nil {
		return nil, err
	}
	if !undated {
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	}

	out := &Prepared{
		Symbol:    series.Symbol,
		AuxFields: append([]string(nil), series.AuxFields...),
		Undated:   undated,
	}
	for _, b := range bars {
		if !b.HasClose() {
			out.Dropped++
			continue
		}
		if n := len(out.Dates); n > 0 && !undated && b.Date.Equal(out.Dates[n-1]) {
			return nil, fmt.Errorf("%w: duplicate date %s", models.ErrInvalidSeries, b.Date.Format(models.DateLayout))
		}
		out.Dates = append(out.Dates, b.Date)
		out.Close = append(out.Close, b.Close)
		if len(out.AuxFields) > 0 {
			out.Aux = append(out.Aux, auxRow(b, out.AuxFields))
		}
	}

	if out.Len() < 2 {
		return nil, &models.InsufficientDataError{Stage: "prepare", Need: 1, Have: out.Len(),
			Reason: "at least 2 rows with a close are required"}
	}

	out.Changes = Changes(out.Close)
	return out, nil
}

// Changes returns the first difference of closes; the first entry is NaN.
func Changes(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(closes); i++ {
		out[i] = closes[i] - closes[i-1]
	}
	return out
}

// checkDates reports whether the series is undated (every date zero). A mix of
// dated and undated rows is rejected.
func checkDates(bars []models.EnrichedBar) (bool, error) {
	zero := 0
	for _, b := range bars {
		if b.Date.IsZero() {
			zero++
		}
	}
	switch {
	case zero == 0:
		return false, nil
	case zero == len(bars):
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d of %d rows have no date", models.ErrInvalidSeries, zero, len(bars))
	}
}

func auxRow(b models.EnrichedBar, fields []string) []float64 {
	row := make([]float64, len(fields))
	for j, f := range fields {
		row[j] = math.NaN()
		if v, ok := b.Aux[f]; ok && v != nil {
			row[j] = *v
		}
	}
	return row
}
