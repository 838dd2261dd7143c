package repository

import (
	"context"
	"time"

	"StockCast/internal/domain/models"
)

// PriceSource returns daily bars for a symbol in [from, to].
type PriceSource interface {
	Name() string
	GetDailyBars(ctx context.Context, symbol string, from, to time.Time) (*models.PriceSeries, error)
}

// AuxiliarySource returns sparse dated records (e.g. earnings) for a symbol.
// An empty result is not an error.
type AuxiliarySource interface {
	GetAuxiliary(ctx context.Context, symbol string) ([]models.AuxiliaryRecord, error)
}

// TickerStore keeps the tracked instrument list.
type TickerStore interface {
	ListTickers(ctx context.Context) ([]string, error)
	AddTicker(ctx context.Context, symbol string) error
}

// PredictionRepository persists prediction rows across restarts.
type PredictionRepository interface {
	Init(ctx context.Context) error
	SaveBatch(ctx context.Context, runID string, records []models.PredictionRecord) error
	LoadAll(ctx context.Context) ([]models.PredictionRecord, error)
	Truncate(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// PredictionPublisher emits prediction rows to downstream consumers.
type PredictionPublisher interface {
	PublishBatch(ctx context.Context, runID string, records []models.PredictionRecord) error
	Close() error
}

// PredictionBroadcaster pushes fresh rows to live subscribers.
type PredictionBroadcaster interface {
	Broadcast(runID string, records []models.PredictionRecord)
}

type Metrics interface {
	RecordRun(result string)
	RecordError(stage string)
	RecordLatency(op string, seconds float64)
	RecordLastClose(symbol string, price float64)
	RecordBacktestMSE(symbol string, mse float64)
	RecordStoreSize(rows int)
}
