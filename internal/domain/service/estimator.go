package service

import (
	"StockCast/internal/domain/models"
)

// Estimator turns an enriched series into a forecast.
// Implementations are not safe for concurrent use; create one per instrument.
type Estimator interface {
	Kind() models.ModelKind
	Estimate(series models.EnrichedSeries) (*models.ForecastOutput, error)
}

// EstimatorFactory builds a fresh estimator for one pipeline run. When
// backtest is set the estimator holds out its horizon and reports MSE.
type EstimatorFactory func(backtest bool) Estimator
