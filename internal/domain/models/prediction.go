package models

import (
	"time"
)

// DateLayout is the wire format of prediction dates.
const DateLayout = "2006-01-02"

// ModelKind identifies the forecaster that produced an output.
type ModelKind string

const (
	ModelShortHorizon ModelKind = "short_horizon"
	ModelLongHorizon  ModelKind = "long_horizon"
)

// PredictionValues holds every column a forecaster can write for one key.
// Each column is independently nullable.
type PredictionValues struct {
	PredictedPrice  *float64 `json:"predicted_price,omitempty"`
	PredictedChange *float64 `json:"predicted_change,omitempty"`
	Yhat            *float64 `json:"yhat,omitempty"`
	YhatLower       *float64 `json:"yhat_lower,omitempty"`
	YhatUpper       *float64 `json:"yhat_upper,omitempty"`
}

// IsEmpty reports whether no column is set.
func (v PredictionValues) IsEmpty() bool {
	return v.PredictedPrice == nil && v.PredictedChange == nil &&
		v.Yhat == nil && v.YhatLower == nil && v.YhatUpper == nil
}

// Columns returns the non-null columns keyed by their wire name.
func (v PredictionValues) Columns() map[string]float64 {
	out := make(map[string]float64, 5)
	put := func(k string, p *float64) {
		if p != nil {
			out[k] = *p
		}
	}
	put("predicted_price", v.PredictedPrice)
	put("predicted_change", v.PredictedChange)
	put("yhat", v.Yhat)
	put("yhat_lower", v.YhatLower)
	put("yhat_upper", v.YhatUpper)
	return out
}

// Float returns a pointer to a copy of f.
func Float(f float64) *float64 { return &f }

// PredictionKey is the composite identity of a prediction row.
type PredictionKey struct {
	Date   time.Time
	Symbol string
}

// PredictionRecord is one row of the prediction table.
type PredictionRecord struct {
	PredictionKey
	PredictionValues
}

// DatedPrediction is a row reduced to a single-instrument view.
type DatedPrediction struct {
	Date time.Time `json:"date"`
	PredictionValues
}

// ForecastRow is one forecasted step. Date is zero when the output is positional.
type ForecastRow struct {
	Date  time.Time
	Step  int
	Value PredictionValues
}

// ForecastOutput is the common result of both forecasters.
type ForecastOutput struct {
	Model      ModelKind
	Symbol     string
	Rows       []ForecastRow
	Actual     []DatedPrice // backtest only
	MSE        *float64     // backtest only
	Positional bool
}

// PredictedPriceSeries returns the short-horizon price path, or the yhat path for long-horizon outputs.
func (o *ForecastOutput) PredictedPriceSeries() []DatedPrice {
	out := make([]DatedPrice, 0, len(o.Rows))
	for _, r := range o.Rows {
		p := r.Value.PredictedPrice
		if p == nil {
			p = r.Value.Yhat
		}
		if p == nil {
			continue
		}
		out = append(out, DatedPrice{Date: r.Date, Price: *p})
	}
	return out
}

// RealPriceSeries returns the held-out prices; nil outside backtest mode.
func (o *ForecastOutput) RealPriceSeries() []DatedPrice {
	return o.Actual
}
