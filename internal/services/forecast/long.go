package forecast

import (
	"fmt"
	"sort"
	"time"

	"StockCast/internal/domain/models"
	"StockCast/internal/domain/service"
	"StockCast/internal/services/features"
	applogger "StockCast/pkg/logger"
)

// LongHorizonConfig holds the long-horizon settings.
type LongHorizonConfig struct {
	Horizon       int                 `yaml:"horizon"`
	Mode          features.Mode       `yaml:"mode"`
	Decomposition DecompositionConfig `yaml:"decomposition"`
}

// DefaultLongHorizonConfig forecasts 90 calendar days.
func DefaultLongHorizonConfig() LongHorizonConfig {
	return LongHorizonConfig{
		Horizon:       90,
		Mode:          features.ModeProduction,
		Decomposition: DefaultDecompositionConfig(),
	}
}

// LongHorizon fits a trend plus seasonality decomposition on the whole history
// and evaluates it at future dates. Points are independent of each other.
type LongHorizon struct {
	cfg LongHorizonConfig
	l   *applogger.Logger
}

var _ service.Estimator = (*LongHorizon)(nil)

// NewLongHorizon creates a long-horizon forecaster.
func NewLongHorizon(cfg LongHorizonConfig) *LongHorizon {
	return &LongHorizon{cfg: cfg}
}

// SetLogger injects a structured logger.
func (f *LongHorizon) SetLogger(l *applogger.Logger) { f.l = l }

func (f *LongHorizon) Kind() models.ModelKind { return models.ModelLongHorizon }

// Config returns the effective settings.
func (f *LongHorizon) Config() LongHorizonConfig { return f.cfg }

// Estimate fits on (date, close) pairs and returns yhat with its bounds for
// Horizon consecutive calendar days after the last observation. In backtest
// mode the last Horizon rows are held out and predicted instead.
func (f *LongHorizon) Estimate(series models.EnrichedSeries) (*models.ForecastOutput, error) {
	if f.cfg.Horizon < 1 {
		return nil, fmt.Errorf("long horizon: horizon must be positive, got %d", f.cfg.Horizon)
	}
	start := time.Now()
	dates, values, err := cleanHistory(series)
	if err != nil {
		return nil, err
	}

	fitDates, fitValues := dates, values
	var future []time.Time
	var actual []float64
	switch f.cfg.Mode {
	case features.ModeBacktest:
		if len(dates) <= f.cfg.Horizon+1 {
			return nil, &models.InsufficientDataError{Stage: "long_horizon", Need: f.cfg.Horizon + 1, Have: len(dates)}
		}
		split := len(dates) - f.cfg.Horizon
		fitDates, fitValues = dates[:split], values[:split]
		future, actual = dates[split:], values[split:]
	default:
		future = features.CalendarDays(dates[len(dates)-1], f.cfg.Horizon)
	}

	model, err := fitDecomposition(fitDates, fitValues, f.cfg.Decomposition)
	if err != nil {
		return nil, &models.InsufficientDataError{Stage: "long_horizon", Need: 1, Have: len(fitDates), Reason: err.Error()}
	}

	out := &models.ForecastOutput{
		Model:  models.ModelLongHorizon,
		Symbol: series.Symbol,
		Rows:   make([]models.ForecastRow, len(future)),
	}
	yhats := make([]float64, len(future))
	for i, dt := range future {
		yhat, lo, hi := model.predict(dt)
		yhats[i] = yhat
		out.Rows[i] = models.ForecastRow{
			Date: dt,
			Step: i,
			Value: models.PredictionValues{
				Yhat:      models.Float(yhat),
				YhatLower: models.Float(lo),
				YhatUpper: models.Float(hi),
			},
		}
	}
	if actual != nil {
		out.Actual = make([]models.DatedPrice, len(actual))
		for i, v := range actual {
			out.Actual[i] = models.DatedPrice{Date: future[i], Price: v}
		}
		mse := MeanSquaredError(yhats, actual)
		out.MSE = &mse
	}

	if f.l != nil {
		f.l.Debug("long horizon estimate",
			applogger.String("symbol", series.Symbol),
			applogger.Int("points", len(fitDates)),
			applogger.Int("changepoints", len(model.cps)),
			applogger.Float64("sigma", model.sigma*model.scale),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

// cleanHistory drops rows without a close and returns ascending (date, close) pairs.
func cleanHistory(series models.EnrichedSeries) ([]time.Time, []float64, error) {
	type point struct {
		d time.Time
		v float64
	}
	pts := make([]point, 0, len(series.Bars))
	for _, b := range series.Bars {
		if !b.HasClose() {
			continue
		}
		if b.Date.IsZero() {
			return nil, nil, fmt.Errorf("%w: long horizon needs dated rows", models.ErrInvalidSeries)
		}
		pts = append(pts, point{b.Date, b.Close})
	}
	if len(pts) < 2 {
		return nil, nil, &models.InsufficientDataError{Stage: "long_horizon", Need: 1, Have: len(pts)}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].d.Before(pts[j].d) })

	dates := make([]time.Time, len(pts))
	values := make([]float64, len(pts))
	for i, p := range pts {
		dates[i], values[i] = p.d, p.v
	}
	return dates, values, nil
}
