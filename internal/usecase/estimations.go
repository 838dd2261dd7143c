package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"StockCast/internal/domain/models"
	domrepo "StockCast/internal/domain/repository"
	"StockCast/internal/domain/service"
	"StockCast/internal/service/cache"
	"StockCast/internal/services/features"
	"StockCast/internal/services/predictions"
	applogger "StockCast/pkg/logger"
)

const (
	// CacheKeyAll holds the rendered unfiltered estimations view.
	CacheKeyAll = "estimations:all"

	runLockKey = "estimations:run"
)

// ErrRunInProgress is returned when another estimation run holds the lock.
var ErrRunInProgress = errors.New("estimation run already in progress")

// InstrumentCacheKey holds the rendered view of one instrument.
func InstrumentCacheKey(symbol string) string {
	return "estimations:symbol:" + predictions.NormalizeSymbol(symbol)
}

// RunParams selects what a run touches.
type RunParams struct {
	Symbols  []string // empty means the whole watchlist
	Reset    bool
	Backtest bool
}

// EstimationOption configures EstimationUseCase.
type EstimationOption func(*EstimationUseCase)

func WithRepository(r domrepo.PredictionRepository) EstimationOption {
	return func(uc *EstimationUseCase) { uc.repo = r }
}

func WithPublisher(p domrepo.PredictionPublisher) EstimationOption {
	return func(uc *EstimationUseCase) { uc.pub = p }
}

func WithBroadcaster(b domrepo.PredictionBroadcaster) EstimationOption {
	return func(uc *EstimationUseCase) { uc.bc = b }
}

func WithCache(c cache.Cache) EstimationOption {
	return func(uc *EstimationUseCase) { uc.cache = c }
}

func WithMetrics(m domrepo.Metrics) EstimationOption {
	return func(uc *EstimationUseCase) { uc.metrics = m }
}

func WithAuxiliary(a domrepo.AuxiliarySource) EstimationOption {
	return func(uc *EstimationUseCase) { uc.aux = a }
}

// WithWorkers bounds how many instruments are estimated at once.
func WithWorkers(n int) EstimationOption {
	return func(uc *EstimationUseCase) {
		if n > 0 {
			uc.workers = n
		}
	}
}

// WithPeriod sets the history lookback.
func WithPeriod(p domrepo.Period) EstimationOption {
	return func(uc *EstimationUseCase) { uc.period = p }
}

func WithLockTTL(d time.Duration) EstimationOption {
	return func(uc *EstimationUseCase) {
		if d > 0 {
			uc.lockTTL = d
		}
	}
}

func withClock(now func() time.Time) EstimationOption {
	return func(uc *EstimationUseCase) { uc.now = now }
}

// EstimationUseCase runs the per-instrument forecasting pipeline over the
// watchlist and keeps the prediction store and its sinks in step.
type EstimationUseCase struct {
	prices    domrepo.PriceSource
	aux       domrepo.AuxiliarySource
	watchlist *Watchlist
	store     *predictions.Store
	short     service.EstimatorFactory
	long      service.EstimatorFactory

	repo    domrepo.PredictionRepository
	pub     domrepo.PredictionPublisher
	bc      domrepo.PredictionBroadcaster
	cache   cache.Cache
	metrics domrepo.Metrics

	workers int
	period  domrepo.Period
	lockTTL time.Duration
	now     func() time.Time
	l       *applogger.Logger
}

func NewEstimationUseCase(
	prices domrepo.PriceSource,
	watchlist *Watchlist,
	store *predictions.Store,
	short, long service.EstimatorFactory,
	opts ...EstimationOption,
) *EstimationUseCase {
	uc := &EstimationUseCase{
		prices:    prices,
		watchlist: watchlist,
		store:     store,
		short:     short,
		long:      long,
		workers:   4,
		period:    domrepo.DefaultPeriod(),
		lockTTL:   15 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *EstimationUseCase) SetLogger(l *applogger.Logger) { uc.l = l }

// Restore hydrates the store from the prediction repository.
func (uc *EstimationUseCase) Restore(ctx context.Context) (int, error) {
	if uc.repo == nil {
		return 0, nil
	}
	recs, err := uc.repo.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore predictions: %w", err)
	}
	uc.store.Restore(recs)
	if uc.metrics != nil {
		uc.metrics.RecordStoreSize(uc.store.Len())
	}
	if uc.l != nil {
		uc.l.Info("predictions restored", applogger.Int("records", len(recs)), applogger.Int("rows", uc.store.Len()))
	}
	return len(recs), nil
}

// Predictions returns the stored rows, optionally restricted to symbols and
// an inclusive date range. Zero bounds are open.
func (uc *EstimationUseCase) Predictions(ctx context.Context, symbols []string, from, to time.Time) ([]models.PredictionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := uc.store.GetAll()
	if len(symbols) == 0 && from.IsZero() && to.IsZero() {
		return all, nil
	}
	want := make(map[string]struct{}, len(symbols))
	for _, s := range dedupe(symbols) {
		want[s] = struct{}{}
	}
	out := all[:0]
	for _, r := range all {
		if len(want) > 0 {
			if _, ok := want[r.Symbol]; !ok {
				continue
			}
		}
		if !from.IsZero() && r.Date.Before(from) {
			continue
		}
		if !to.IsZero() && r.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ForInstrument returns the rows of one instrument or ErrTickerNotFound.
func (uc *EstimationUseCase) ForInstrument(ctx context.Context, symbol string) ([]models.DatedPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := uc.store.GetForInstrument(symbol)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no predictions for %s", models.ErrTickerNotFound, predictions.NormalizeSymbol(symbol))
	}
	return rows, nil
}

// Reset clears the store and the persisted table. It holds the run lock so a
// run in flight cannot write past the truncate.
func (uc *EstimationUseCase) Reset(ctx context.Context) error {
	if uc.cache != nil {
		ok, err := uc.cache.TryLock(ctx, runLockKey, uc.lockTTL)
		if err != nil {
			return fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return ErrRunInProgress
		}
		defer func() {
			if err := uc.cache.Unlock(context.Background(), runLockKey); err != nil && uc.l != nil {
				uc.l.Warn("release run lock failed", applogger.Error(err))
			}
		}()
	}
	return uc.reset(ctx)
}

func (uc *EstimationUseCase) reset(ctx context.Context) error {
	known := uc.store.Symbols()
	if uc.repo != nil {
		if err := uc.repo.Truncate(ctx); err != nil {
			return fmt.Errorf("reset predictions: %w", err)
		}
	}
	uc.store.Reset()
	uc.invalidate(ctx, known, true)
	if uc.metrics != nil {
		uc.metrics.RecordStoreSize(0)
	}
	return nil
}

// Run estimates every requested instrument. Instrument failures are collected
// in the report and never abort the batch. The returned error is non-nil only
// when the run could not start.
func (uc *EstimationUseCase) Run(ctx context.Context, p RunParams) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: uc.now().UTC(),
		Reset:     p.Reset,
		Succeeded: []string{},
		Sources:   map[string]string{},
		MSE:       map[string]float64{},
	}
	log := uc.l
	if log != nil {
		log = log.With(applogger.String("run_id", report.RunID))
	}

	if uc.cache != nil {
		ok, err := uc.cache.TryLock(ctx, runLockKey, uc.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer func() {
			if err := uc.cache.Unlock(context.Background(), runLockKey); err != nil && log != nil {
				log.Warn("release run lock failed", applogger.Error(err))
			}
		}()
	}

	symbols := dedupe(p.Symbols)
	if len(symbols) == 0 {
		var err error
		if symbols, err = uc.watchlist.List(ctx); err != nil {
			return nil, err
		}
	}
	if p.Reset {
		if err := uc.reset(ctx); err != nil {
			return nil, err
		}
	}
	if log != nil {
		log.Info("estimation run started",
			applogger.Int("instruments", len(symbols)),
			applogger.Bool("reset", p.Reset),
			applogger.Bool("backtest", p.Backtest),
			applogger.Int("workers", uc.workers),
		)
	}

	results := uc.runAll(ctx, symbols, p.Backtest)

	var records []models.PredictionRecord
	for _, res := range results {
		report.Failures = append(report.Failures, res.failures...)
		if res.source != "" {
			report.Sources[res.symbol] = res.source
		}
		for kind, mse := range res.mse {
			report.MSE[res.symbol+"/"+string(kind)] = mse
		}
		if len(res.failures) == 0 {
			report.Succeeded = append(report.Succeeded, res.symbol)
		}
		records = append(records, res.records...)
	}
	sortRecords(records)
	report.Records = len(records)

	uc.deliver(ctx, report, records, log)
	uc.invalidate(ctx, touchedSymbols(records), len(records) > 0)

	report.FinishedAt = uc.now().UTC()
	uc.observe(report, results)
	if log != nil {
		log.Info("estimation run finished",
			applogger.Int("succeeded", len(report.Succeeded)),
			applogger.Int("failed", len(symbols)-len(report.Succeeded)),
			applogger.Int("records", report.Records),
			applogger.Duration("duration_ms", report.FinishedAt.Sub(report.StartedAt)),
		)
	}
	return report, nil
}

type instrumentResult struct {
	symbol    string
	source    string
	lastClose float64
	records   []models.PredictionRecord
	failures  []models.InstrumentFailure
	mse       map[models.ModelKind]float64
}

func (r *instrumentResult) fail(stage models.Stage, err error) {
	r.failures = append(r.failures, models.InstrumentFailure{
		Symbol: r.symbol,
		Stage:  stage,
		Err:    err,
		Reason: err.Error(),
	})
}

// runAll fans symbols out to a bounded worker pool and returns results in input order.
func (uc *EstimationUseCase) runAll(ctx context.Context, symbols []string, backtest bool) []*instrumentResult {
	results := make([]*instrumentResult, len(symbols))
	jobs := make(chan int)
	workers := uc.workers
	if workers > len(symbols) {
		workers = len(symbols)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = uc.estimateInstrument(ctx, symbols[i], backtest)
			}
		}()
	}
	for i := range symbols {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// estimateInstrument runs fetch, align, short horizon and long horizon for
// one symbol. The long horizon still runs when the short one fails.
func (uc *EstimationUseCase) estimateInstrument(ctx context.Context, symbol string, backtest bool) *instrumentResult {
	res := &instrumentResult{symbol: symbol, mse: map[models.ModelKind]float64{}}
	if err := ctx.Err(); err != nil {
		res.fail(models.StageFetch, err)
		return res
	}

	to := uc.now().UTC()
	series, err := uc.prices.GetDailyBars(ctx, symbol, uc.period.Start(to), to)
	if err != nil {
		res.fail(models.StageFetch, err)
		return res
	}
	res.source = series.Source

	var aux []models.AuxiliaryRecord
	if uc.aux != nil {
		if aux, err = uc.aux.GetAuxiliary(ctx, symbol); err != nil {
			if uc.l != nil {
				uc.l.Warn("auxiliary data unavailable",
					applogger.String("symbol", symbol),
					applogger.Error(err),
				)
			}
			aux = nil
		}
	}

	enriched, dropped := features.AlignAsOf(*series, aux)
	if len(enriched.Bars) == 0 {
		res.fail(models.StageAlign, &models.InsufficientDataError{Stage: "align", Need: 0, Have: 0, Reason: "no usable rows"})
		return res
	}
	res.lastClose = enriched.Bars[len(enriched.Bars)-1].Close
	if dropped > 0 && uc.l != nil {
		uc.l.Debug("rows dropped before estimation",
			applogger.String("symbol", symbol),
			applogger.Int("dropped", dropped),
		)
	}

	touched := make(map[models.PredictionKey]int)
	for _, step := range []struct {
		stage   models.Stage
		factory service.EstimatorFactory
	}{
		{models.StageShort, uc.short},
		{models.StageLong, uc.long},
	} {
		if step.factory == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.fail(step.stage, err)
			return res
		}
		est := step.factory(backtest)
		start := time.Now()
		out, err := est.Estimate(enriched)
		if uc.metrics != nil {
			uc.metrics.RecordLatency(string(step.stage), time.Since(start).Seconds())
		}
		if err != nil {
			res.fail(step.stage, err)
			continue
		}
		if out.MSE != nil {
			res.mse[est.Kind()] = *out.MSE
		}
		recs, err := uc.store.Upsert(symbol, out)
		if err != nil {
			res.fail(models.StageUpsert, err)
			continue
		}
		// later upserts return the merged row, so they replace earlier copies
		for _, r := range recs {
			if i, ok := touched[r.PredictionKey]; ok {
				res.records[i] = r
				continue
			}
			touched[r.PredictionKey] = len(res.records)
			res.records = append(res.records, r)
		}
	}
	return res
}

// deliver persists, publishes and broadcasts the touched rows. Sink failures
// are reported on the run, never on an instrument.
func (uc *EstimationUseCase) deliver(ctx context.Context, report *models.RunReport, records []models.PredictionRecord, log *applogger.Logger) {
	if len(records) == 0 {
		return
	}
	sinkErr := func(stage models.Stage, err error) {
		if report.SinkErrors == nil {
			report.SinkErrors = map[models.Stage]string{}
		}
		report.SinkErrors[stage] = err.Error()
		if uc.metrics != nil {
			uc.metrics.RecordError(string(stage))
		}
		if log != nil {
			log.Error("prediction sink failed", applogger.String("stage", string(stage)), applogger.Error(err))
		}
	}
	if uc.repo != nil {
		if err := uc.repo.SaveBatch(ctx, report.RunID, records); err != nil {
			sinkErr(models.StagePersist, err)
		}
	}
	if uc.pub != nil {
		if err := uc.pub.PublishBatch(ctx, report.RunID, records); err != nil {
			sinkErr(models.StagePublish, err)
		}
	}
	if uc.bc != nil {
		uc.bc.Broadcast(report.RunID, records)
	}
}

// invalidate drops cached views of symbols and, when all is set, the combined view.
func (uc *EstimationUseCase) invalidate(ctx context.Context, symbols []string, all bool) {
	if uc.cache == nil {
		return
	}
	keys := make([]string, 0, len(symbols)+1)
	if all {
		keys = append(keys, CacheKeyAll)
	}
	for _, s := range symbols {
		keys = append(keys, InstrumentCacheKey(s))
	}
	if err := uc.cache.Delete(ctx, keys...); err != nil {
		if uc.metrics != nil {
			uc.metrics.RecordError(string(models.StageCache))
		}
		if uc.l != nil {
			uc.l.Warn("cache invalidation failed", applogger.Error(err))
		}
	}
}

func (uc *EstimationUseCase) observe(report *models.RunReport, results []*instrumentResult) {
	if uc.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case len(report.Succeeded) == 0 && len(results) > 0:
		result = "failed"
	case len(report.Failures) > 0 || len(report.SinkErrors) > 0:
		result = "partial"
	}
	uc.metrics.RecordRun(result)
	uc.metrics.RecordLatency("estimation_run", report.FinishedAt.Sub(report.StartedAt).Seconds())
	uc.metrics.RecordStoreSize(uc.store.Len())
	for _, f := range report.Failures {
		uc.metrics.RecordError(string(f.Stage))
	}
	for _, res := range results {
		if res.lastClose > 0 {
			uc.metrics.RecordLastClose(res.symbol, res.lastClose)
		}
		if mse, ok := res.mse[models.ModelShortHorizon]; ok {
			uc.metrics.RecordBacktestMSE(res.symbol, mse)
		}
	}
}

func touchedSymbols(records []models.PredictionRecord) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range records {
		if _, ok := seen[r.Symbol]; !ok {
			seen[r.Symbol] = struct{}{}
			out = append(out, r.Symbol)
		}
	}
	return out
}

func sortRecords(recs []models.PredictionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].Date.Equal(recs[j].Date) {
			return recs[i].Date.Before(recs[j].Date)
		}
		return recs[i].Symbol < recs[j].Symbol
	})
}
