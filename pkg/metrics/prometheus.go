package metrics

import (
	domrepo "StockCast/internal/domain/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	runsTotal   *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	lastClose   *prometheus.GaugeVec
	backtestMSE *prometheus.GaugeVec
	storeRows   prometheus.Gauge
	latency     *prometheus.HistogramVec
}

var _ domrepo.Metrics = (*Recorder)(nil)

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the recorder on reg (a fresh registry in tests).
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_estimation_runs_total",
				Help: "Estimation runs by outcome (ok, partial, failed)",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcast_errors_total",
				Help: "Errors by pipeline stage",
			},
			[]string{"stage"},
		),
		lastClose: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockcast_last_close",
				Help: "Last observed close per symbol",
			},
			[]string{"symbol"},
		),
		backtestMSE: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockcast_backtest_mse",
				Help: "Mean squared error of the latest short-horizon backtest",
			},
			[]string{"symbol"},
		),
		storeRows: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockcast_prediction_store_rows",
				Help: "Rows in the in-memory prediction store",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockcast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordRun(result string) {
	r.runsTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordError(stage string) {
	r.errorsTotal.WithLabelValues(stage).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordLastClose(symbol string, price float64) {
	r.lastClose.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordBacktestMSE(symbol string, mse float64) {
	r.backtestMSE.WithLabelValues(symbol).Set(mse)
}

func (r *Recorder) RecordStoreSize(rows int) {
	r.storeRows.Set(float64(rows))
}
