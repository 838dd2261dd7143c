package repository

import (
	"context"
	"time"

	"StockCast/internal/domain/models"
	domrepo "StockCast/internal/domain/repository"
	pkgkafka "StockCast/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

// KafkaPredictionPublisher emits one PredictionEvent per row, keyed by symbol
// so a consumer sees each instrument's rows in order.
type KafkaPredictionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.PredictionPublisher = (*KafkaPredictionPublisher)(nil)

func NewKafkaPredictionPublisher(producer *pkgkafka.Producer, topic string) *KafkaPredictionPublisher {
	return &KafkaPredictionPublisher{producer: producer, topic: topic}
}

func (p *KafkaPredictionPublisher) PublishBatch(ctx context.Context, runID string, records []models.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	trace := []kafka.Header{{Key: "trace_id", Value: []byte(runID)}}
	msgs := make([]pkgkafka.Message, len(records))
	for i, r := range records {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(r.Symbol),
			Value:   PredictionEvent(runID, r, now),
			Headers: trace,
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPredictionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// PredictionEvent converts a row to its wire event. Prices are fixed 4 dp strings.
func PredictionEvent(runID string, r models.PredictionRecord, ts int64) models.PredictionEvent {
	return models.PredictionEvent{
		RunID:           runID,
		Symbol:          r.Symbol,
		Date:            r.Date.Format(models.DateLayout),
		PredictedPrice:  priceString(r.PredictedPrice),
		PredictedChange: r.PredictedChange,
		Yhat:            priceString(r.Yhat),
		YhatLower:       priceString(r.YhatLower),
		YhatUpper:       priceString(r.YhatUpper),
		Timestamp:       ts,
	}
}
