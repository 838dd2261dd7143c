package models

import "time"

// Stage names a step of the per-instrument pipeline.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageAlign   Stage = "align"
	StageShort   Stage = "short_horizon"
	StageLong    Stage = "long_horizon"
	StageUpsert  Stage = "upsert"
	StagePersist Stage = "persist"
	StagePublish Stage = "publish"
	StageCache   Stage = "cache"
)

// InstrumentFailure records why one instrument's pipeline failed.
type InstrumentFailure struct {
	Symbol string `json:"symbol"`
	Stage  Stage  `json:"stage"`
	Err    error  `json:"-"`
	Reason string `json:"reason"`
}

// RunReport summarizes one batch estimation run.
type RunReport struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Reset      bool                `json:"reset"`
	Succeeded  []string            `json:"succeeded"`
	Failures   []InstrumentFailure `json:"failures,omitempty"`
	Records    int                 `json:"records"`
	Sources    map[string]string   `json:"sources,omitempty"`
	MSE        map[string]float64  `json:"mse,omitempty"`
	SinkErrors map[Stage]string    `json:"sink_errors,omitempty"`
}

// UsedFallback reports whether any instrument was served by the local database.
func (r *RunReport) UsedFallback() bool {
	for _, src := range r.Sources {
		if src == "sqlite" {
			return true
		}
	}
	return false
}

// Failed reports whether the given instrument failed in any stage.
func (r *RunReport) Failed(symbol string) bool {
	for _, f := range r.Failures {
		if f.Symbol == symbol {
			return true
		}
	}
	return false
}

// PredictionEvent is the message published for every touched prediction row.
type PredictionEvent struct {
	RunID           string   `json:"run_id"`
	Symbol          string   `json:"symbol"`
	Date            string   `json:"date"`
	PredictedPrice  *string  `json:"predicted_price,omitempty"`
	PredictedChange *float64 `json:"predicted_change,omitempty"`
	Yhat            *string  `json:"yhat,omitempty"`
	YhatLower       *string  `json:"yhat_lower,omitempty"`
	YhatUpper       *string  `json:"yhat_upper,omitempty"`
	Timestamp       int64    `json:"ts"`
}
