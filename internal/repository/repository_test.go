package repository

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"StockCast/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteMarketStore {
	t.Helper()
	s, err := NewSQLiteMarketStore(filepath.Join(t.TempDir(), "market.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func d(s string) time.Time {
	t, _ := time.Parse(models.DateLayout, s)
	return t
}

func TestSQLiteBarsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	in := &models.PriceSeries{Symbol: "aapl", Bars: []models.PriceBar{
		{Date: d("2024-01-03"), Open: 2, High: 3, Low: 1, Close: 2.5, AdjClose: 2.4, Volume: 100},
		{Date: d("2024-01-02"), Open: 1, High: 2, Low: 0.5, Close: math.NaN(), AdjClose: math.NaN(), Volume: 50},
	}}
	require.NoError(t, s.SaveBars(ctx, in))
	// upsert replaces
	in.Bars[0].Close = 2.75
	require.NoError(t, s.SaveBars(ctx, in))

	out, err := s.GetDailyBars(ctx, "AAPL", d("2024-01-01"), d("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", out.Source)
	require.Len(t, out.Bars, 2)
	assert.Equal(t, d("2024-01-02"), out.Bars[0].Date)
	assert.True(t, math.IsNaN(out.Bars[0].Close))
	assert.Equal(t, 2.75, out.Bars[1].Close)
	assert.Equal(t, 100.0, out.Bars[1].Volume)

	_, err = s.GetDailyBars(ctx, "AAPL", d("2023-01-01"), d("2023-01-31"))
	assert.ErrorIs(t, err, models.ErrTickerNotFound)
}

func TestSQLiteFundamentalsAsAuxiliary(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.SaveFundamentals(ctx, "MSFT", models.AuxiliaryRecord{
		Date: d("2023-10-24"), Values: map[string]float64{AuxEPSActual: 2.99, AuxEPSEstimate: 2.65},
	}))
	require.NoError(t, s.SaveFundamentals(ctx, "MSFT", models.AuxiliaryRecord{
		Date: d("2023-07-25"), Values: map[string]float64{AuxEPSActual: 2.69},
	}))

	recs, err := s.GetAuxiliary(ctx, "msft")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, d("2023-07-25"), recs[0].Date)
	assert.Equal(t, map[string]float64{AuxEPSActual: 2.69}, recs[0].Values)
	assert.Equal(t, 2.65, recs[1].Values[AuxEPSEstimate])

	none, err := s.GetAuxiliary(ctx, "NOPE")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteTickers(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.AddTicker(ctx, "msft"))
	require.NoError(t, s.AddTicker(ctx, "AAPL"))
	assert.ErrorIs(t, s.AddTicker(ctx, "MSFT"), models.ErrTickerExists)

	got, err := s.ListTickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)

	ok, err := s.TickerExists(ctx, "aapl")
	require.NoError(t, err)
	assert.True(t, ok)
}

type fakeSource struct {
	name   string
	series *models.PriceSeries
	err    error
	calls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) (*models.PriceSeries, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.series
	return &cp, nil
}

type fakeWriter struct{ saved []*models.PriceSeries }

func (w *fakeWriter) SaveBars(ctx context.Context, s *models.PriceSeries) error {
	w.saved = append(w.saved, s)
	return nil
}

func TestFallbackPrefersPrimary(t *testing.T) {
	primary := &fakeSource{name: "yahoo", series: &models.PriceSeries{Symbol: "AAPL"}}
	fallback := &fakeSource{name: "sqlite", series: &models.PriceSeries{Symbol: "AAPL"}}
	w := &fakeWriter{}
	src := NewFallbackPriceSource(primary, fallback, w)

	s, err := src.GetDailyBars(context.Background(), "AAPL", time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "yahoo", s.Source)
	assert.Equal(t, 0, fallback.calls)
	assert.Len(t, w.saved, 1)
}

func TestFallbackUsedOnPrimaryError(t *testing.T) {
	primary := &fakeSource{name: "yahoo", err: errors.New("429 too many requests")}
	fallback := &fakeSource{name: "sqlite", series: &models.PriceSeries{Symbol: "AAPL"}}
	src := NewFallbackPriceSource(primary, fallback, nil)

	s, err := src.GetDailyBars(context.Background(), "AAPL", time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Source)
}

func TestFallbackBothFail(t *testing.T) {
	primary := &fakeSource{name: "yahoo", err: models.ErrTickerNotFound}
	fallback := &fakeSource{name: "sqlite", err: models.ErrTickerNotFound}
	src := NewFallbackPriceSource(primary, fallback, nil)

	_, err := src.GetDailyBars(context.Background(), "ZZZ", time.Time{}, time.Now())
	assert.ErrorIs(t, err, models.ErrTickerNotFound)
}

func TestPredictionEventRoundsPrices(t *testing.T) {
	rec := models.PredictionRecord{
		PredictionKey:    models.PredictionKey{Date: d("2024-01-02"), Symbol: "AAPL"},
		PredictionValues: models.PredictionValues{PredictedPrice: models.Float(150.123456), PredictedChange: models.Float(0.5)},
	}
	ev := PredictionEvent("run-1", rec, 42)

	assert.Equal(t, "2024-01-02", ev.Date)
	require.NotNil(t, ev.PredictedPrice)
	assert.Equal(t, "150.1235", *ev.PredictedPrice)
	assert.Equal(t, 0.5, *ev.PredictedChange)
	assert.Nil(t, ev.Yhat)
	assert.Equal(t, int64(42), ev.Timestamp)
}

func TestDecimalHelpersKeepNil(t *testing.T) {
	assert.Nil(t, roundPrice(nil))
	assert.Nil(t, priceString(nil))
	assert.Nil(t, decimalFloat(nil))

	got := decimalFloat(roundPrice(models.Float(99.99995)))
	require.NotNil(t, got)
	assert.InDelta(t, 100.0, *got, 1e-9)
}
