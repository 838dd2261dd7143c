package models

// Requests for estimation HTTP endpoints.

type EstimationsRequest struct {
	Symbols string `query:"symbols" json:"symbols"`
	From    string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To      string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
}

type InstrumentEstimationsRequest struct {
	Symbol string `param:"symbol" validate:"required,ticker"`
}

type UpdateEstimationsRequest struct {
	Reset   bool     `json:"reset"`
	Symbols []string `json:"symbols" validate:"omitempty,max=200,dive,required,ticker"`
	Mode    string   `json:"mode" default:"production" validate:"oneof=production backtest"`
}

type AddTickerRequest struct {
	Ticker string `json:"ticker" validate:"required,ticker"`
}

// UpdateEstimationsResponse mirrors a run report for HTTP clients.
type UpdateEstimationsResponse struct {
	RunID         string              `json:"run_id"`
	Succeeded     []string            `json:"succeeded"`
	Failures      []InstrumentFailure `json:"failures,omitempty"`
	Records       int                 `json:"records"`
	UsingDatabase bool                `json:"using_database"`
}
