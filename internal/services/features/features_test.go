package features

import (
	"math"
	"testing"
	"time"

	"StockCast/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dailySeries(n int) models.EnrichedSeries {
	bars := make([]models.EnrichedBar, n)
	for i := range bars {
		bars[i] = models.EnrichedBar{PriceBar: models.PriceBar{
			Date:  day0.AddDate(0, 0, i),
			Close: 100 + float64(i) + math.Sin(float64(i)),
		}}
	}
	return models.EnrichedSeries{Symbol: "AAPL", Bars: bars}
}

func TestPrepareSortsWithoutMutatingInput(t *testing.T) {
	s := dailySeries(5)
	s.Bars[0], s.Bars[4] = s.Bars[4], s.Bars[0]
	first := s.Bars[0].Date

	p, err := Prepare(s)
	require.NoError(t, err)

	assert.Equal(t, first, s.Bars[0].Date, "caller slice must stay untouched")
	for i := 1; i < p.Len(); i++ {
		assert.True(t, p.Dates[i].After(p.Dates[i-1]))
	}
	assert.True(t, math.IsNaN(p.Changes[0]))
	assert.InDelta(t, p.Close[3]-p.Close[2], p.Changes[3], 1e-12)
}

func TestPrepareDropsMissingCloses(t *testing.T) {
	s := dailySeries(6)
	s.Bars[2].Close = math.NaN()

	p, err := Prepare(s)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Len())
	assert.Equal(t, 1, p.Dropped)
}

func TestPrepareInsufficient(t *testing.T) {
	_, err := Prepare(dailySeries(1))
	require.Error(t, err)
	assert.True(t, models.IsInsufficientData(err))
	assert.Contains(t, err.Error(), "at least 2 rows")
}

func TestPrepareRejectsDuplicateDates(t *testing.T) {
	s := dailySeries(4)
	s.Bars[3].Date = s.Bars[2].Date
	_, err := Prepare(s)
	assert.ErrorIs(t, err, models.ErrInvalidSeries)
}

func TestBuildProductionCandidateCount(t *testing.T) {
	for _, n := range []int{12, 30, 57} {
		p, err := Prepare(dailySeries(n))
		require.NoError(t, err)

		td, err := BuildTrainingData(p, 10, 3, ModeProduction)
		require.NoError(t, err)
		assert.Equal(t, n-10, td.Candidates)
		assert.Len(t, td.LastWindow, 10)
		assert.Equal(t, n-10-1, len(td.Y), "first window touches the undefined first change")
		assert.Equal(t, p.Close[n-1], td.LastClose)
		assert.Equal(t, p.Changes[n-10:], td.LastWindow)
		assert.Nil(t, td.RealFuture)
	}
}

func TestBuildBacktestScenario(t *testing.T) {
	p, err := Prepare(dailySeries(40))
	require.NoError(t, err)

	td, err := BuildTrainingData(p, 10, 5, ModeBacktest)
	require.NoError(t, err)

	assert.Equal(t, 25, td.Candidates)
	assert.Len(t, td.Y, 24)
	assert.Len(t, td.RealFuture, 5)
	assert.Equal(t, p.Close[35:], td.RealFuture)
	assert.Equal(t, p.Dates[35:], td.Index.Dates)
	assert.Equal(t, CadenceHoldout, td.Index.Cadence)
	assert.Equal(t, p.Close[34], td.LastClose)
	assert.Equal(t, p.Changes[25:35], td.LastWindow)
}

func TestBuildInsufficientBoundaries(t *testing.T) {
	p, err := Prepare(dailySeries(16))
	require.NoError(t, err)
	_, err = BuildTrainingData(p, 10, 5, ModeBacktest)
	assert.True(t, models.IsInsufficientData(err))

	p, err = Prepare(dailySeries(11))
	require.NoError(t, err)
	_, err = BuildTrainingData(p, 10, 5, ModeProduction)
	assert.True(t, models.IsInsufficientData(err))
}

func TestBuildSamplesNeverContainNaN(t *testing.T) {
	s := dailySeries(30)
	p, err := Prepare(s)
	require.NoError(t, err)
	p.Changes[15] = math.NaN()

	td, err := BuildTrainingData(p, 5, 3, ModeProduction)
	require.NoError(t, err)
	for i, row := range td.X {
		for _, v := range row {
			assert.False(t, math.IsNaN(v), "sample %d", i)
		}
		assert.False(t, math.IsNaN(td.Y[i]))
	}
	// windows covering index 0 or 15 are dropped
	assert.Equal(t, td.Candidates-1-6, len(td.Y))
}

func TestBuildWithAuxiliaryColumns(t *testing.T) {
	prices := models.PriceSeries{Symbol: "AAPL"}
	for i := 0; i < 30; i++ {
		prices.Bars = append(prices.Bars, models.PriceBar{Date: day0.AddDate(0, 0, i), Close: 50 + float64(i%4)})
	}
	aux := []models.AuxiliaryRecord{{Date: day0.AddDate(0, 0, 10), Values: map[string]float64{"eps_actual": 1.5}}}
	enriched, _ := AlignAsOf(prices, aux)

	p, err := Prepare(enriched)
	require.NoError(t, err)
	td, err := BuildTrainingData(p, 3, 2, ModeProduction)
	require.NoError(t, err)

	assert.Equal(t, []string{"eps_actual"}, td.AuxFields)
	assert.Equal(t, []float64{1.5}, td.LastAux)
	for _, row := range td.X {
		assert.Len(t, row, 4)
	}
	// rows with t-1 < 10 have no earnings yet
	assert.Equal(t, 30-11, len(td.Y))
}

func TestInferForecastIndex(t *testing.T) {
	t.Run("fixed daily", func(t *testing.T) {
		dates := []time.Time{day0, day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 2)}
		idx := InferForecastIndex(dates, 2)
		assert.Equal(t, CadenceFixed, idx.Cadence)
		assert.Equal(t, []time.Time{day0.AddDate(0, 0, 3), day0.AddDate(0, 0, 4)}, idx.Dates)
	})

	t.Run("business days with holiday", func(t *testing.T) {
		// 2024-01-01 is a Monday
		var dates []time.Time
		for d := day0; len(dates) < 40; d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday || d.Equal(day0.AddDate(0, 0, 15)) {
				continue
			}
			dates = append(dates, d)
		}
		idx := InferForecastIndex(dates, 3)
		require.Equal(t, CadenceBusinessDay, idx.Cadence)
		for _, d := range idx.Dates {
			assert.NotEqual(t, time.Saturday, d.Weekday())
			assert.NotEqual(t, time.Sunday, d.Weekday())
			assert.True(t, d.After(dates[len(dates)-1]))
		}
	})

	t.Run("irregular falls back to last step", func(t *testing.T) {
		dates := []time.Time{day0, day0.AddDate(0, 0, 5), day0.AddDate(0, 0, 6), day0.AddDate(0, 0, 13)}
		idx := InferForecastIndex(dates, 2)
		assert.Equal(t, CadenceLastStep, idx.Cadence)
		assert.Equal(t, day0.AddDate(0, 0, 20), idx.Dates[0])
		assert.Equal(t, day0.AddDate(0, 0, 27), idx.Dates[1])
	})

	t.Run("unordered is positional", func(t *testing.T) {
		idx := InferForecastIndex([]time.Time{day0, day0}, 4)
		assert.True(t, idx.Positional)
		assert.Equal(t, 4, idx.Len)
		assert.Nil(t, idx.Dates)
	})
}

func TestProductionUndatedSeriesIsPositional(t *testing.T) {
	s := dailySeries(20)
	for i := range s.Bars {
		s.Bars[i].Date = time.Time{}
	}
	p, err := Prepare(s)
	require.NoError(t, err)
	td, err := BuildTrainingData(p, 5, 4, ModeProduction)
	require.NoError(t, err)
	assert.True(t, td.Index.Positional)
	assert.Equal(t, 4, td.Index.Len)
}

func TestAlignAsOfNeverLooksAhead(t *testing.T) {
	prices := models.PriceSeries{Symbol: "MSFT"}
	for i := 0; i < 120; i++ {
		prices.Bars = append(prices.Bars, models.PriceBar{Date: day0.AddDate(0, 0, i), Close: 10})
	}
	prices.Bars[50].Close = math.NaN()
	aux := []models.AuxiliaryRecord{
		{Date: day0.AddDate(0, 0, 90), Values: map[string]float64{"eps_actual": 3}},
		{Date: day0.AddDate(0, 0, 30), Values: map[string]float64{"eps_actual": 1, "surprise_pct": 2}},
		{Date: day0.AddDate(0, 0, 60), Values: map[string]float64{"eps_actual": 2}},
	}

	out, dropped := AlignAsOf(prices, aux)
	assert.Equal(t, 1, dropped)
	assert.Len(t, out.Bars, 119)
	assert.Equal(t, []string{"eps_actual", "surprise_pct"}, out.AuxFields)

	for _, b := range out.Bars {
		if b.AuxDate == nil {
			assert.True(t, b.Date.Before(day0.AddDate(0, 0, 30)))
			continue
		}
		assert.False(t, b.AuxDate.After(b.Date))
	}

	at := func(i int) models.EnrichedBar {
		for _, b := range out.Bars {
			if b.Date.Equal(day0.AddDate(0, 0, i)) {
				return b
			}
		}
		t.Fatalf("bar %d not found", i)
		return models.EnrichedBar{}
	}
	assert.Nil(t, at(29).Aux)
	assert.Equal(t, 1.0, *at(30).Aux["eps_actual"])
	assert.Equal(t, 2.0, *at(30).Aux["surprise_pct"])
	assert.Equal(t, 2.0, *at(89).Aux["eps_actual"])
	assert.Nil(t, at(89).Aux["surprise_pct"])
	assert.Equal(t, 3.0, *at(119).Aux["eps_actual"])
}
