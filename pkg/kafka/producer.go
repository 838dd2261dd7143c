package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	applogger "StockCast/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Message is one record handed to PublishBatch. Value may be bytes, a string
// or any JSON-encodable value.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers []kafka.Header
}

// Producer publishes prediction events. One writer serves every topic, the
// topic is set per message.
type Producer struct {
	writer      *kafka.Writer
	compression string
	l           *applogger.Logger
}

// NewProducer validates cfg and opens a writer. No connection is made until
// the first publish.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}
	initProducerMetrics()
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  codec,
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			BatchSize:    cfg.BatchSize,
			BatchBytes:   int64(cfg.BatchBytes),
			BatchTimeout: cfg.BatchTimeout,
		},
		compression: cfg.Compression,
	}, nil
}

// SetLogger injects a structured logger.
func (p *Producer) SetLogger(l *applogger.Logger) { p.l = l }

// Publish sends a single message.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishBatch encodes every message first and writes them in one call, so a
// bad value fails the batch before anything reaches the broker.
func (p *Producer) PublishBatch(ctx context.Context, topic string, batch []Message) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	out := make([]kafka.Message, 0, len(batch))
	var size int64
	for i, m := range batch {
		v, err := encodeValue(m.Value)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		size += int64(len(v))
		out = append(out, kafka.Message{Topic: topic, Key: m.Key, Value: v, Headers: m.Headers, Time: start})
	}

	err := p.writer.WriteMessages(ctx, out...)
	producerObserve(topic, p.compression, len(out), size, time.Since(start), err)
	if err != nil {
		if p.l != nil {
			p.l.Error("kafka publish failed",
				applogger.String("topic", topic),
				applogger.Int("messages", len(out)),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

// compressionCodec maps a config name to a codec. "none" and "" disable
// compression.
func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("unknown kafka compression %q", name)
}

var (
	producerMessages *prometheus.CounterVec
	producerBytes    *prometheus.CounterVec
	producerLatency  *prometheus.HistogramVec
	producerOnce     sync.Once
)

func initProducerMetrics() {
	producerOnce.Do(func() {
		f := promauto.With(metricsRegisterer)
		producerMessages = f.NewCounterVec(
			prometheus.CounterOpts{Name: "stockcast_kafka_producer_messages_total", Help: "Prediction events written, by outcome"},
			[]string{"topic", "compression", "result"},
		)
		producerBytes = f.NewCounterVec(
			prometheus.CounterOpts{Name: "stockcast_kafka_producer_bytes_total", Help: "Encoded payload bytes written"},
			[]string{"topic"},
		)
		producerLatency = f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "stockcast_kafka_producer_publish_seconds", Help: "Batch write latency", Buckets: prometheus.DefBuckets},
			[]string{"topic"},
		)
	})
}

func producerObserve(topic, compression string, n int, size int64, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, compression, result).Add(float64(n))
	if err == nil {
		producerBytes.WithLabelValues(topic).Add(float64(size))
	}
	producerLatency.WithLabelValues(topic).Observe(d.Seconds())
}
