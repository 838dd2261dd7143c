package forecast

import (
	"errors"
	"fmt"
	"time"

	"StockCast/internal/domain/models"
	"StockCast/internal/domain/service"
	"StockCast/internal/services/features"
	"StockCast/internal/services/forecast/gbdt"
	applogger "StockCast/pkg/logger"
)

// State is the lifecycle of a short-horizon forecaster.
type State int

const (
	StateUntrained State = iota
	StateTrained
	StateForecasted
)

func (s State) String() string {
	switch s {
	case StateTrained:
		return "trained"
	case StateForecasted:
		return "forecasted"
	default:
		return "untrained"
	}
}

// ShortHorizonConfig holds the short-horizon settings.
type ShortHorizonConfig struct {
	Horizon int           `yaml:"horizon"`
	Window  int           `yaml:"window"`
	Mode    features.Mode `yaml:"mode"`
	Trees   gbdt.Params   `yaml:"trees"`
}

// DefaultShortHorizonConfig predicts 21 trading days from 10-day windows.
func DefaultShortHorizonConfig() ShortHorizonConfig {
	return ShortHorizonConfig{
		Horizon: 21,
		Window:  10,
		Mode:    features.ModeProduction,
		Trees:   gbdt.DefaultParams(),
	}
}

// ShortOption configures ShortHorizon.
type ShortOption func(*ShortHorizonConfig)

// WithHorizon sets the number of forecast steps.
func WithHorizon(h int) ShortOption {
	return func(c *ShortHorizonConfig) { c.Horizon = h }
}

// WithWindow sets the number of past changes per sample.
func WithWindow(w int) ShortOption {
	return func(c *ShortHorizonConfig) { c.Window = w }
}

// WithMode selects backtest or production training.
func WithMode(m features.Mode) ShortOption {
	return func(c *ShortHorizonConfig) { c.Mode = m }
}

// WithTreeParams replaces the boosting parameters.
func WithTreeParams(p gbdt.Params) ShortOption {
	return func(c *ShortHorizonConfig) { c.Trees = p }
}

// ShortHorizon predicts the next change from a window of past changes and
// rolls the prediction forward one step at a time.
type ShortHorizon struct {
	cfg   ShortHorizonConfig
	model *gbdt.Model
	state State
	l     *applogger.Logger
}

var _ service.Estimator = (*ShortHorizon)(nil)

// NewShortHorizon creates an untrained forecaster.
func NewShortHorizon(opts ...ShortOption) *ShortHorizon {
	cfg := DefaultShortHorizonConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ShortHorizon{cfg: cfg}
}

// NewShortHorizonFromConfig creates an untrained forecaster from a full config.
func NewShortHorizonFromConfig(cfg ShortHorizonConfig) *ShortHorizon {
	return &ShortHorizon{cfg: cfg}
}

// SetLogger injects a structured logger.
func (f *ShortHorizon) SetLogger(l *applogger.Logger) { f.l = l }

func (f *ShortHorizon) Kind() models.ModelKind { return models.ModelShortHorizon }

// State returns the current lifecycle state.
func (f *ShortHorizon) State() State { return f.state }

// Config returns the effective settings.
func (f *ShortHorizon) Config() ShortHorizonConfig { return f.cfg }

// Train fits the model and moves to StateTrained.
func (f *ShortHorizon) Train(X [][]float64, y []float64) error {
	m, err := gbdt.Fit(X, y, f.cfg.Trees)
	if err != nil {
		return fmt.Errorf("train short horizon: %w", err)
	}
	f.model = m
	f.state = StateTrained
	return nil
}

// Forecast rolls the model forward Horizon steps from lastClose. Each step
// predicts a change, adds it to the running close, then drops the oldest
// window entry and appends the predicted change. aux is held constant.
func (f *ShortHorizon) Forecast(lastClose float64, lastWindow, aux []float64) (prices, changes []float64, err error) {
	if f.model == nil || f.state == StateUntrained {
		return nil, nil, models.ErrModelNotTrained
	}
	if len(lastWindow) < 1 {
		return nil, nil, errors.New("forecast: window must hold at least one change")
	}
	if len(lastWindow)+len(aux) != f.model.NumFeatures() {
		return nil, nil, fmt.Errorf("forecast: got %d window and %d aux values, model expects %d features",
			len(lastWindow), len(aux), f.model.NumFeatures())
	}

	w := len(lastWindow)
	x := make([]float64, w+len(aux))
	copy(x, lastWindow)
	copy(x[w:], aux)

	prices = make([]float64, f.cfg.Horizon)
	changes = make([]float64, f.cfg.Horizon)
	current := lastClose
	for step := 0; step < f.cfg.Horizon; step++ {
		change := f.model.Predict(x)
		current += change
		changes[step] = change
		prices[step] = current

		copy(x[:w-1], x[1:w])
		x[w-1] = change
	}
	f.state = StateForecasted
	return prices, changes, nil
}

// Estimate prepares the series, trains on it and forecasts.
func (f *ShortHorizon) Estimate(series models.EnrichedSeries) (*models.ForecastOutput, error) {
	start := time.Now()
	prepared, err := features.Prepare(series)
	if err != nil {
		return nil, err
	}
	td, err := features.BuildTrainingData(prepared, f.cfg.Window, f.cfg.Horizon, f.cfg.Mode)
	if err != nil {
		return nil, err
	}
	if err := f.Train(td.X, td.Y); err != nil {
		return nil, err
	}
	prices, changes, err := f.Forecast(td.LastClose, td.LastWindow, td.LastAux)
	if err != nil {
		return nil, err
	}

	out := &models.ForecastOutput{
		Model:      models.ModelShortHorizon,
		Symbol:     series.Symbol,
		Rows:       make([]models.ForecastRow, len(prices)),
		Positional: td.Index.Positional,
	}
	for i := range prices {
		row := models.ForecastRow{
			Step: i,
			Value: models.PredictionValues{
				PredictedPrice:  models.Float(prices[i]),
				PredictedChange: models.Float(changes[i]),
			},
		}
		if !td.Index.Positional {
			row.Date = td.Index.Dates[i]
		}
		out.Rows[i] = row
	}

	if td.Mode == features.ModeBacktest {
		out.Actual = make([]models.DatedPrice, len(td.RealFuture))
		for i, p := range td.RealFuture {
			out.Actual[i] = models.DatedPrice{Date: out.Rows[i].Date, Price: p}
		}
		mse := MeanSquaredError(prices, td.RealFuture)
		out.MSE = &mse
	}

	if f.l != nil {
		f.l.Debug("short horizon estimate",
			applogger.String("symbol", series.Symbol),
			applogger.String("mode", string(td.Mode)),
			applogger.Int("samples", len(td.Y)),
			applogger.Int("candidates", td.Candidates),
			applogger.Strings("aux", td.AuxFields),
			applogger.String("cadence", string(td.Index.Cadence)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

// MeanSquaredError averages squared differences over the common length.
func MeanSquaredError(pred, actual []float64) float64 {
	n := len(pred)
	if len(actual) < n {
		n = len(actual)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := pred[i] - actual[i]
		sum += d * d
	}
	return sum / float64(n)
}
