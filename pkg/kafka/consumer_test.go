package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcHandler struct {
	topic string
	fn    func(context.Context, []byte) error
	calls int
}

func (h *funcHandler) Topic() string { return h.topic }

func (h *funcHandler) Handle(ctx context.Context, data []byte) error {
	h.calls++
	return h.fn(ctx, data)
}

func newTestConsumer(t *testing.T) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestNewConsumerValidation(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)

	_, err = NewConsumer(WithConsumerBrokers([]string{"b:9092"}), WithConsumerAutoOffsetReset("middle"))
	assert.Error(t, err)

	c, err := NewConsumer(WithConsumerBrokers([]string{"b:9092"}), WithConsumerWorkers(0), WithConsumerGroupID(""))
	require.NoError(t, err)
	assert.Equal(t, 1, c.cfg.WorkerCount)
	assert.Equal(t, "stockcast", c.cfg.GroupID)
}

func TestStartOffset(t *testing.T) {
	off, err := startOffset("")
	require.NoError(t, err)
	assert.Equal(t, kafka.LastOffset, off)

	off, err = startOffset("earliest")
	require.NoError(t, err)
	assert.Equal(t, kafka.FirstOffset, off)

	_, err = startOffset("newest")
	assert.Error(t, err)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 80*time.Millisecond
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		assert.LessOrEqual(t, d, max)
		assert.Greater(t, d, time.Duration(0))
	}

	d := backoffWithJitter(0, 0, 0)
	assert.GreaterOrEqual(t, d, 25*time.Millisecond)
	assert.LessOrEqual(t, d, 50*time.Millisecond)
}

func TestProcessRetriesUntilSuccess(t *testing.T) {
	c := newTestConsumer(t)
	h := &funcHandler{topic: "estimations.update"}
	h.fn = func(context.Context, []byte) error {
		if h.calls < 3 {
			return errors.New("busy")
		}
		return nil
	}
	c.RegisterHandler(h)

	err := c.process(message{topic: h.topic, km: kafka.Message{Topic: h.topic, Value: []byte("{}")}})
	require.NoError(t, err)
	assert.Equal(t, 3, h.calls)
}

func TestProcessGivesUpAfterRetryMax(t *testing.T) {
	c := newTestConsumer(t)
	h := &funcHandler{topic: "tickers.add", fn: func(context.Context, []byte) error { return errors.New("bad payload") }}
	c.RegisterHandler(h)

	err := c.process(message{topic: h.topic})
	require.EqualError(t, err, "bad payload")
	assert.Equal(t, 3, h.calls)
}

func TestProcessRecoversPanic(t *testing.T) {
	c := newTestConsumer(t)
	c.RegisterHandler(&funcHandler{topic: "tickers.add", fn: func(context.Context, []byte) error { panic("boom") }})

	err := c.process(message{topic: "tickers.add"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestProcessHookErrorSkipsHandler(t *testing.T) {
	c := newTestConsumer(t)
	h := &funcHandler{topic: "tickers.add", fn: func(context.Context, []byte) error { return nil }}
	c.RegisterHandler(h)
	c.WithConsumerHook(HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			return ctx, km, data, errors.New("rejected")
		},
	})

	err := c.process(message{topic: h.topic})
	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "before_handle", hookErr.Code)
	assert.Zero(t, h.calls)
}

func TestProcessUnknownTopicIsIgnored(t *testing.T) {
	c := newTestConsumer(t)
	assert.NoError(t, c.process(message{topic: "unknown"}))
}

func TestDuplicateHandlerKeepsFirst(t *testing.T) {
	c := newTestConsumer(t)
	first := &funcHandler{topic: "t", fn: func(context.Context, []byte) error { return nil }}
	second := &funcHandler{topic: "t", fn: func(context.Context, []byte) error { return errors.New("second") }}
	c.RegisterHandler(first)
	c.RegisterHandler(second)

	require.NoError(t, c.process(message{topic: "t"}))
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)
}

func TestStartStopWithoutTopics(t *testing.T) {
	c := newTestConsumer(t)
	require.NoError(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.Stop(ctx))
	assert.NoError(t, c.Stop(ctx), "second stop is a no-op")
}

func TestTraceIDFromHeaders(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	assert.Equal(t, "abc", ExtractTraceID(km))

	ctx, _, _, err := LoggingHook(nil).BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
}
