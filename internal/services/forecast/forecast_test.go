package forecast

import (
	"math"
	"testing"
	"time"

	"StockCast/internal/domain/models"
	"StockCast/internal/services/features"
	"StockCast/internal/services/forecast/gbdt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var start = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func series(n int, f func(i int) float64) models.EnrichedSeries {
	s := models.EnrichedSeries{Symbol: "AAPL"}
	for i := 0; i < n; i++ {
		s.Bars = append(s.Bars, models.EnrichedBar{PriceBar: models.PriceBar{
			Date:  start.AddDate(0, 0, i),
			Close: f(i),
		}})
	}
	return s
}

func smallTrees() gbdt.Params {
	p := gbdt.DefaultParams()
	p.NumTrees = 40
	p.LearningRate = 0.1
	p.NumLeaves = 6
	p.MinChildSamples = 4
	return p
}

func zigzag(i int) float64 { return 100 + float64(i)*0.5 + 2*math.Sin(float64(i)/2) }

func TestForecastBeforeTrainFails(t *testing.T) {
	f := NewShortHorizon()
	assert.Equal(t, StateUntrained, f.State())

	_, _, err := f.Forecast(100, make([]float64, 10), nil)
	assert.ErrorIs(t, err, models.ErrModelNotTrained)
}

func TestShortHorizonStateMachine(t *testing.T) {
	f := NewShortHorizon(WithWindow(4), WithHorizon(3), WithTreeParams(smallTrees()))
	X := [][]float64{}
	y := []float64{}
	for i := 0; i < 40; i++ {
		X = append(X, []float64{float64(i % 3), float64(i % 5), 1, 0})
		y = append(y, float64(i%3)-1)
	}
	require.NoError(t, f.Train(X, y))
	assert.Equal(t, StateTrained, f.State())

	prices, changes, err := f.Forecast(10, []float64{0, 1, 2, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateForecasted, f.State())
	require.Len(t, prices, 3)
	require.Len(t, changes, 3)

	running := 10.0
	for i := range prices {
		running += changes[i]
		assert.InDelta(t, running, prices[i], 1e-9)
	}

	_, _, err = f.Forecast(10, []float64{0, 1}, nil)
	assert.Error(t, err, "window width must match the model")
}

func TestForecastRequiresWindow(t *testing.T) {
	f := NewShortHorizon(WithWindow(1), WithHorizon(3), WithTreeParams(smallTrees()))
	X := [][]float64{}
	y := []float64{}
	for i := 0; i < 40; i++ {
		X = append(X, []float64{float64(i % 4)})
		y = append(y, float64(i%4)-1.5)
	}
	require.NoError(t, f.Train(X, y))

	var err error
	assert.NotPanics(t, func() { _, _, err = f.Forecast(100, nil, []float64{2}) })
	assert.Error(t, err)
	assert.Equal(t, StateTrained, f.State())
}

func TestForecastRollsWindowAutoregressively(t *testing.T) {
	f := NewShortHorizon(WithWindow(3), WithHorizon(4), WithTreeParams(smallTrees()))
	X := [][]float64{}
	y := []float64{}
	for i := 0; i < 60; i++ {
		a, b, c := float64(i%4), float64((i+1)%4), float64((i+2)%4)
		X = append(X, []float64{a, b, c})
		y = append(y, c-a)
	}
	require.NoError(t, f.Train(X, y))

	window := []float64{1, 2, 3}
	_, changes, err := f.Forecast(50, window, nil)
	require.NoError(t, err)

	// replay the rollout by hand with the fitted model
	buf := []float64{1, 2, 3}
	for step := 0; step < 4; step++ {
		want := f.model.Predict(buf)
		assert.Equal(t, want, changes[step], "step %d", step)
		buf = append(buf[1:], want)
	}
	assert.Equal(t, []float64{1, 2, 3}, window, "caller window must not change")
}

func TestForecastIsDeterministic(t *testing.T) {
	f := NewShortHorizon(WithWindow(5), WithHorizon(6), WithTreeParams(smallTrees()))
	out1, err := f.Estimate(series(80, zigzag))
	require.NoError(t, err)

	td := mustBuild(t, series(80, zigzag), 5, 6, features.ModeProduction)
	p1, c1, err := f.Forecast(td.LastClose, td.LastWindow, nil)
	require.NoError(t, err)
	p2, c2, err := f.Forecast(td.LastClose, td.LastWindow, nil)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, c1, c2)

	for i, r := range out1.Rows {
		assert.Equal(t, p1[i], *r.Value.PredictedPrice)
	}
}

func mustBuild(t *testing.T, s models.EnrichedSeries, w, h int, mode features.Mode) *features.TrainingData {
	t.Helper()
	p, err := features.Prepare(s)
	require.NoError(t, err)
	td, err := features.BuildTrainingData(p, w, h, mode)
	require.NoError(t, err)
	return td
}

func TestShortHorizonProductionOutput(t *testing.T) {
	f := NewShortHorizon(WithWindow(10), WithHorizon(5), WithTreeParams(smallTrees()))
	out, err := f.Estimate(series(60, zigzag))
	require.NoError(t, err)

	assert.Equal(t, models.ModelShortHorizon, out.Model)
	require.Len(t, out.Rows, 5)
	assert.Nil(t, out.RealPriceSeries())
	assert.Nil(t, out.MSE)
	assert.False(t, out.Positional)
	last := start.AddDate(0, 0, 59)
	for i, r := range out.Rows {
		assert.Equal(t, last.AddDate(0, 0, i+1), r.Date)
		assert.NotNil(t, r.Value.PredictedPrice)
		assert.NotNil(t, r.Value.PredictedChange)
		assert.Nil(t, r.Value.Yhat)
	}
	assert.Len(t, out.PredictedPriceSeries(), 5)
}

func TestShortHorizonBacktest(t *testing.T) {
	f := NewShortHorizon(WithWindow(10), WithHorizon(5), WithMode(features.ModeBacktest), WithTreeParams(smallTrees()))
	s := series(40, zigzag)
	out, err := f.Estimate(s)
	require.NoError(t, err)

	pred := out.PredictedPriceSeries()
	real := out.RealPriceSeries()
	require.Len(t, pred, 5)
	require.Len(t, real, 5)
	for i := range real {
		assert.Equal(t, s.Bars[35+i].Date, real[i].Date)
		assert.Equal(t, s.Bars[35+i].Close, real[i].Price)
		assert.Equal(t, real[i].Date, pred[i].Date)
	}
	require.NotNil(t, out.MSE)
	assert.GreaterOrEqual(t, *out.MSE, 0.0)
}

func TestShortHorizonInsufficient(t *testing.T) {
	f := NewShortHorizon(WithWindow(10), WithHorizon(5), WithMode(features.ModeBacktest))
	_, err := f.Estimate(series(16, zigzag))
	assert.True(t, models.IsInsufficientData(err))
	assert.Equal(t, StateUntrained, f.State())
}

func TestMeanSquaredError(t *testing.T) {
	assert.Equal(t, 0.0, MeanSquaredError([]float64{1, 2}, []float64{1, 2}))
	assert.InDelta(t, 2.5, MeanSquaredError([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.Equal(t, 0.0, MeanSquaredError(nil, nil))
}

func TestLongHorizonProducesOrderedBounds(t *testing.T) {
	dc := DefaultDecompositionConfig()
	dc.Yearly = false
	f := NewLongHorizon(LongHorizonConfig{Horizon: 30, Decomposition: dc})
	s := series(400, func(i int) float64 {
		return 50 + 0.1*float64(i) + 3*math.Sin(2*math.Pi*float64(i)/7) + math.Sin(float64(i)*1.7)
	})

	out, err := f.Estimate(s)
	require.NoError(t, err)
	require.Len(t, out.Rows, 30)
	assert.Equal(t, models.ModelLongHorizon, out.Model)

	last := s.Bars[len(s.Bars)-1].Date
	prevWidth := 0.0
	for i, r := range out.Rows {
		assert.Equal(t, last.AddDate(0, 0, i+1), r.Date)
		require.NotNil(t, r.Value.Yhat)
		assert.Nil(t, r.Value.PredictedPrice)
		lo, y, hi := *r.Value.YhatLower, *r.Value.Yhat, *r.Value.YhatUpper
		assert.LessOrEqual(t, lo, y)
		assert.LessOrEqual(t, y, hi)
		width := hi - lo
		assert.GreaterOrEqual(t, width, prevWidth-1e-9, "interval should not shrink with horizon")
		prevWidth = width
	}
	// trend continues upward
	assert.InDelta(t, 50+0.1*float64(400+15), *out.Rows[15].Value.Yhat, 6)
}

func TestLongHorizonBacktest(t *testing.T) {
	cfg := DefaultLongHorizonConfig()
	cfg.Horizon = 10
	cfg.Mode = features.ModeBacktest
	f := NewLongHorizon(cfg)
	s := series(120, func(i int) float64 { return 10 + 0.2*float64(i) })

	out, err := f.Estimate(s)
	require.NoError(t, err)
	require.Len(t, out.Actual, 10)
	require.NotNil(t, out.MSE)
	assert.Less(t, *out.MSE, 1.0)
	assert.Equal(t, s.Bars[110].Date, out.Rows[0].Date)
}

func TestLongHorizonInsufficient(t *testing.T) {
	f := NewLongHorizon(DefaultLongHorizonConfig())
	_, err := f.Estimate(series(1, zigzag))
	assert.True(t, models.IsInsufficientData(err))

	same := series(3, zigzag)
	for i := range same.Bars {
		same.Bars[i].Date = start
	}
	_, err = f.Estimate(same)
	assert.True(t, models.IsInsufficientData(err))
}

func TestRidgeSolvesRankDeficientDesign(t *testing.T) {
	a := mat.NewDense(6, 2, nil)
	b := make([]float64, 6)
	for i := 0; i < 6; i++ {
		a.Set(i, 0, float64(i+1))
		b[i] = 2 * float64(i+1)
	}

	// the zero column leaves the unpenalised system singular
	x, err := ridge(a, b, []float64{0, 0})
	require.NoError(t, err)
	assert.Len(t, x, 2)

	x, err = ridge(a, b, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 2, x[0], 1e-9)
	assert.InDelta(t, 0, x[1], 1e-9)
}

func TestLongHorizonConstantSeries(t *testing.T) {
	f := NewLongHorizon(DefaultLongHorizonConfig())
	out, err := f.Estimate(series(90, func(int) float64 { return 100 }))
	require.NoError(t, err)
	require.NotEmpty(t, out.Rows)
	for _, r := range out.Rows {
		lo, y, hi := *r.Value.YhatLower, *r.Value.Yhat, *r.Value.YhatUpper
		assert.False(t, math.IsNaN(y))
		assert.InDelta(t, 100, y, 1)
		assert.LessOrEqual(t, lo, y)
		assert.LessOrEqual(t, y, hi)
	}
}
