package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"StockCast/internal/domain/models"
	"StockCast/internal/domain/service"
	"StockCast/internal/service/cache"
	"StockCast/internal/services/forecast"
	"StockCast/internal/services/predictions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day0  = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
)

type fakePrices struct {
	mu    sync.Mutex
	bars  int
	fail  map[string]error
	calls []string
}

func (f *fakePrices) Name() string { return "fake" }

func (f *fakePrices) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) (*models.PriceSeries, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.mu.Unlock()
	if err := f.fail[symbol]; err != nil {
		return nil, err
	}
	s := &models.PriceSeries{Symbol: symbol, Source: "yahoo"}
	for i := 0; i < f.bars; i++ {
		s.Bars = append(s.Bars, models.PriceBar{Date: day0.AddDate(0, 0, i), Close: 100 + float64(i)})
	}
	return s, nil
}

type fakeTickers struct {
	mu   sync.Mutex
	syms []string
}

func (f *fakeTickers) ListTickers(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.syms...), nil
}

func (f *fakeTickers) AddTicker(_ context.Context, s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.syms {
		if x == s {
			return models.ErrTickerExists
		}
	}
	f.syms = append(f.syms, s)
	return nil
}

type fakeRepo struct {
	saved     []models.PredictionRecord
	loaded    []models.PredictionRecord
	saveErr   error
	truncated bool
}

func (r *fakeRepo) Init(context.Context) error { return nil }
func (r *fakeRepo) SaveBatch(_ context.Context, _ string, recs []models.PredictionRecord) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, recs...)
	return nil
}
func (r *fakeRepo) LoadAll(context.Context) ([]models.PredictionRecord, error) { return r.loaded, nil }
func (r *fakeRepo) Truncate(context.Context) error                             { r.truncated = true; return nil }
func (r *fakeRepo) Health(context.Context) error                               { return nil }
func (r *fakeRepo) Close() error                                               { return nil }

type fakePublisher struct{ runs map[string]int }

func (p *fakePublisher) PublishBatch(_ context.Context, runID string, recs []models.PredictionRecord) error {
	if p.runs == nil {
		p.runs = map[string]int{}
	}
	p.runs[runID] += len(recs)
	return nil
}
func (p *fakePublisher) Close() error { return nil }

type fakeBroadcaster struct{ got []models.PredictionRecord }

func (b *fakeBroadcaster) Broadcast(_ string, recs []models.PredictionRecord) { b.got = recs }

type fakeMetrics struct {
	mu     sync.Mutex
	runs   []string
	errors []string
	size   int
}

func (m *fakeMetrics) RecordRun(r string) { m.mu.Lock(); m.runs = append(m.runs, r); m.mu.Unlock() }
func (m *fakeMetrics) RecordError(s string) {
	m.mu.Lock()
	m.errors = append(m.errors, s)
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordLatency(string, float64)     {}
func (m *fakeMetrics) RecordLastClose(string, float64)   {}
func (m *fakeMetrics) RecordBacktestMSE(string, float64) {}
func (m *fakeMetrics) RecordStoreSize(rows int)          { m.mu.Lock(); m.size = rows; m.mu.Unlock() }

// stubEstimator writes one column for n days after the last bar.
type stubEstimator struct {
	kind models.ModelKind
	n    int
	err  map[string]error
}

func (s *stubEstimator) Kind() models.ModelKind { return s.kind }

func (s *stubEstimator) Estimate(series models.EnrichedSeries) (*models.ForecastOutput, error) {
	if err := s.err[series.Symbol]; err != nil {
		return nil, err
	}
	last := series.Bars[len(series.Bars)-1]
	out := &models.ForecastOutput{Model: s.kind, Symbol: series.Symbol}
	for i := 1; i <= s.n; i++ {
		v := models.PredictionValues{}
		if s.kind == models.ModelShortHorizon {
			v.PredictedPrice = models.Float(last.Close + float64(i))
		} else {
			v.Yhat = models.Float(last.Close - float64(i))
		}
		out.Rows = append(out.Rows, models.ForecastRow{Date: last.Date.AddDate(0, 0, i), Step: i - 1, Value: v})
	}
	return out, nil
}

func stubs(shortErr map[string]error) (service.EstimatorFactory, service.EstimatorFactory) {
	short := func(bool) service.Estimator {
		return &stubEstimator{kind: models.ModelShortHorizon, n: 2, err: shortErr}
	}
	long := func(bool) service.Estimator {
		return &stubEstimator{kind: models.ModelLongHorizon, n: 3}
	}
	return short, long
}

type fixture struct {
	prices  *fakePrices
	tickers *fakeTickers
	store   *predictions.Store
	repo    *fakeRepo
	pub     *fakePublisher
	bc      *fakeBroadcaster
	cache   *cache.TTLCache
	metrics *fakeMetrics
	uc      *EstimationUseCase
}

func newFixture(shortErr map[string]error, symbols ...string) *fixture {
	f := &fixture{
		prices:  &fakePrices{bars: 30, fail: map[string]error{}},
		tickers: &fakeTickers{syms: symbols},
		store:   predictions.New(),
		repo:    &fakeRepo{},
		pub:     &fakePublisher{},
		bc:      &fakeBroadcaster{},
		cache:   cache.NewTTLCache(),
		metrics: &fakeMetrics{},
	}
	short, long := stubs(shortErr)
	f.uc = NewEstimationUseCase(f.prices, NewWatchlist(f.tickers, f.prices), f.store, short, long,
		WithRepository(f.repo),
		WithPublisher(f.pub),
		WithBroadcaster(f.bc),
		WithCache(f.cache),
		WithMetrics(f.metrics),
		WithWorkers(2),
		withClock(clock),
	)
	return f
}

func TestRunEstimatesWatchlistAndFansOut(t *testing.T) {
	f := newFixture(nil, "AAPL", "MSFT", "aapl")
	ctx := context.Background()
	require.NoError(t, f.cache.SetBytes(ctx, CacheKeyAll, []byte("stale"), time.Minute))
	require.NoError(t, f.cache.SetBytes(ctx, InstrumentCacheKey("MSFT"), []byte("stale"), time.Minute))

	report, err := f.uc.Run(ctx, RunParams{})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"AAPL", "MSFT"}, report.Succeeded)
	assert.Empty(t, report.Failures)
	// short writes 2 days, long writes 3 overlapping days
	assert.Equal(t, 6, report.Records)
	assert.Equal(t, 6, f.store.Len())
	assert.Equal(t, "yahoo", report.Sources["AAPL"])
	assert.False(t, report.UsedFallback())

	last := day0.AddDate(0, 0, 29)
	rows := f.store.GetForInstrument("AAPL")
	require.Len(t, rows, 3)
	assert.Equal(t, last.AddDate(0, 0, 1), rows[0].Date)
	assert.InDelta(t, 130.0, *rows[0].PredictedPrice, 1e-9)
	assert.InDelta(t, 128.0, *rows[0].Yhat, 1e-9)
	assert.Nil(t, rows[2].PredictedPrice)

	require.Len(t, f.repo.saved, 6)
	assert.Equal(t, 6, f.pub.runs[report.RunID])
	require.Len(t, f.bc.got, 6)
	assert.True(t, sort.SliceIsSorted(f.bc.got, func(i, j int) bool {
		a, b := f.bc.got[i], f.bc.got[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Symbol < b.Symbol
	}))
	for _, r := range f.repo.saved {
		if r.Date.Equal(last.AddDate(0, 0, 1)) {
			assert.NotNil(t, r.PredictedPrice, "persisted rows carry both forecasters")
			assert.NotNil(t, r.Yhat)
		}
	}

	_, ok, _ := f.cache.GetBytes(ctx, CacheKeyAll)
	assert.False(t, ok)
	_, ok, _ = f.cache.GetBytes(ctx, InstrumentCacheKey("MSFT"))
	assert.False(t, ok)

	assert.Equal(t, []string{"ok"}, f.metrics.runs)
	assert.Equal(t, 6, f.metrics.size)
}

func TestRunCollectsFailuresWithoutAborting(t *testing.T) {
	f := newFixture(map[string]error{"MSFT": errors.New("boom")}, "AAPL", "MSFT", "NOPE")
	f.prices.fail["NOPE"] = models.ErrTickerNotFound

	report, err := f.uc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL"}, report.Succeeded)
	require.Len(t, report.Failures, 2)
	byStage := map[models.Stage]string{}
	for _, fl := range report.Failures {
		byStage[fl.Stage] = fl.Symbol
	}
	assert.Equal(t, "MSFT", byStage[models.StageShort])
	assert.Equal(t, "NOPE", byStage[models.StageFetch])
	assert.True(t, report.Failed("NOPE"))

	// the long horizon still ran for MSFT
	assert.Len(t, f.store.GetForInstrument("MSFT"), 3)
	assert.Empty(t, f.store.GetForInstrument("NOPE"))
	assert.Equal(t, []string{"partial"}, f.metrics.runs)
}

func TestRunWithExplicitSymbolsAndReset(t *testing.T) {
	f := newFixture(nil, "AAPL")
	ctx := context.Background()
	_, err := f.store.Upsert("OLD", &models.ForecastOutput{Rows: []models.ForecastRow{
		{Date: day0, Value: models.PredictionValues{Yhat: models.Float(1)}},
	}})
	require.NoError(t, err)

	report, err := f.uc.Run(ctx, RunParams{Symbols: []string{" tsla "}, Reset: true})
	require.NoError(t, err)

	assert.True(t, f.repo.truncated)
	assert.Equal(t, []string{"TSLA"}, report.Succeeded)
	assert.Equal(t, []string{"TSLA"}, f.store.Symbols())
	assert.Equal(t, []string{"TSLA"}, f.prices.calls)
}

func TestRunRefusesWhileLocked(t *testing.T) {
	f := newFixture(nil, "AAPL")
	ctx := context.Background()
	ok, err := f.cache.TryLock(ctx, runLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.uc.Run(ctx, RunParams{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, f.cache.Unlock(ctx, runLockKey))
	_, err = f.uc.Run(ctx, RunParams{})
	assert.NoError(t, err)
	// the run released its lock
	ok, _ = f.cache.TryLock(ctx, runLockKey, time.Minute)
	assert.True(t, ok)
}

func TestResetRefusesWhileRunLocked(t *testing.T) {
	f := newFixture(nil, "AAPL")
	ctx := context.Background()
	_, err := f.uc.Run(ctx, RunParams{})
	require.NoError(t, err)
	ok, err := f.cache.TryLock(ctx, runLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = f.uc.Reset(ctx)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.False(t, f.repo.truncated)
	assert.Equal(t, 3, f.store.Len())

	require.NoError(t, f.cache.Unlock(ctx, runLockKey))
	require.NoError(t, f.uc.Reset(ctx))
	assert.True(t, f.repo.truncated)
	assert.Zero(t, f.store.Len())
	// the reset released its lock
	ok, _ = f.cache.TryLock(ctx, runLockKey, time.Minute)
	assert.True(t, ok)
}

func TestRunReportsSinkErrors(t *testing.T) {
	f := newFixture(nil, "AAPL")
	f.repo.saveErr = errors.New("clickhouse down")

	report, err := f.uc.Run(context.Background(), RunParams{})
	require.NoError(t, err)
	assert.Contains(t, report.SinkErrors[models.StagePersist], "clickhouse down")
	assert.Equal(t, 3, f.store.Len(), "store keeps the run's rows")
	assert.Contains(t, f.metrics.errors, string(models.StagePersist))
	assert.Equal(t, []string{"partial"}, f.metrics.runs)
}

func TestRunHonoursCancelledContext(t *testing.T) {
	f := newFixture(nil, "AAPL", "MSFT")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.uc.Run(ctx, RunParams{Symbols: []string{"AAPL", "MSFT"}})
	require.NoError(t, err)
	assert.Empty(t, report.Succeeded)
	assert.Len(t, report.Failures, 2)
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.prices.calls)
}

func TestRestoreAndReads(t *testing.T) {
	f := newFixture(nil)
	d1, d2 := day0, day0.AddDate(0, 0, 1)
	f.repo.loaded = []models.PredictionRecord{
		{PredictionKey: models.PredictionKey{Date: d1, Symbol: "AAPL"}, PredictionValues: models.PredictionValues{Yhat: models.Float(1)}},
		{PredictionKey: models.PredictionKey{Date: d2, Symbol: "AAPL"}, PredictionValues: models.PredictionValues{Yhat: models.Float(2)}},
		{PredictionKey: models.PredictionKey{Date: d2, Symbol: "MSFT"}, PredictionValues: models.PredictionValues{Yhat: models.Float(3)}},
	}
	ctx := context.Background()

	n, err := f.uc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := f.uc.Predictions(ctx, nil, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := f.uc.Predictions(ctx, []string{"aapl"}, d2, time.Time{})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, 2.0, *some[0].Yhat)

	rows, err := f.uc.ForInstrument(ctx, "msft")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = f.uc.ForInstrument(ctx, "TSLA")
	assert.ErrorIs(t, err, models.ErrTickerNotFound)

	require.NoError(t, f.uc.Reset(ctx))
	assert.Zero(t, f.store.Len())
}

func TestRunWithRealForecasters(t *testing.T) {
	prices := &fakePrices{bars: 120, fail: map[string]error{}}
	store := predictions.New()
	short := func(backtest bool) service.Estimator {
		trees := forecast.DefaultShortHorizonConfig().Trees
		trees.NumTrees = 20
		trees.MinChildSamples = 4
		return forecast.NewShortHorizon(forecast.WithWindow(5), forecast.WithHorizon(3), forecast.WithTreeParams(trees))
	}
	long := func(backtest bool) service.Estimator {
		cfg := forecast.DefaultLongHorizonConfig()
		cfg.Horizon = 5
		cfg.Decomposition.Yearly = false
		return forecast.NewLongHorizon(cfg)
	}
	uc := NewEstimationUseCase(prices, NewWatchlist(&fakeTickers{syms: []string{"AAPL"}}, prices), store, short, long, withClock(clock))

	report, err := uc.Run(context.Background(), RunParams{})
	require.NoError(t, err)
	require.Empty(t, report.Failures)

	rows := store.GetForInstrument("AAPL")
	require.Len(t, rows, 5)
	assert.NotNil(t, rows[0].PredictedPrice)
	assert.NotNil(t, rows[0].Yhat)
	assert.Nil(t, rows[4].PredictedPrice)
	assert.LessOrEqual(t, *rows[4].YhatLower, *rows[4].YhatUpper)
}
