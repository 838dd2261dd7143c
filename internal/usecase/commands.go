package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"StockCast/internal/domain/models"
	domrepo "StockCast/internal/domain/repository"
	pkghttp "StockCast/pkg/http"
	pkgkafka "StockCast/pkg/kafka"
	applogger "StockCast/pkg/logger"
)

// UpdateCommandHandler starts an estimation run for every
// {"reset":bool,"symbols":[...],"mode":"production|backtest"} message.
type UpdateCommandHandler struct {
	topic   string
	uc      *EstimationUseCase
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewUpdateCommandHandler(topic string, uc *EstimationUseCase, metrics domrepo.Metrics) *UpdateCommandHandler {
	return &UpdateCommandHandler{topic: topic, uc: uc, metrics: metrics}
}

func (h *UpdateCommandHandler) SetLogger(l *applogger.Logger) { h.l = l }

func (h *UpdateCommandHandler) Topic() string { return h.topic }

func (h *UpdateCommandHandler) Handle(ctx context.Context, b []byte) error {
	var cmd models.UpdateEstimationsRequest
	if err := json.Unmarshal(b, &cmd); err != nil {
		h.recordError("command_unmarshal")
		return fmt.Errorf("decode update command: %w", err)
	}
	if err := pkghttp.Validate(&cmd); err != nil {
		h.recordError("command_invalid")
		return fmt.Errorf("invalid update command: %w", err)
	}

	start := time.Now()
	report, err := h.uc.Run(ctx, RunParams{
		Symbols:  cmd.Symbols,
		Reset:    cmd.Reset,
		Backtest: cmd.Mode == "backtest",
	})
	if h.metrics != nil {
		h.metrics.RecordLatency("command_update", time.Since(start).Seconds())
	}
	if err != nil {
		// a concurrent run is retried by the consumer
		h.recordError("command_run")
		return err
	}
	if h.l != nil {
		h.l.Info("update command processed",
			applogger.String("run_id", report.RunID),
			applogger.String("trace_id", pkgkafka.TraceID(ctx)),
			applogger.Int("records", report.Records),
			applogger.Int("failures", len(report.Failures)),
		)
	}
	return nil
}

func (h *UpdateCommandHandler) recordError(stage string) {
	if h.metrics != nil {
		h.metrics.RecordError(stage)
	}
}

// TickerCommandHandler adds {"ticker":"..."} to the watchlist. Already tracked
// tickers are acknowledged.
type TickerCommandHandler struct {
	topic     string
	watchlist *Watchlist
	metrics   domrepo.Metrics
	l         *applogger.Logger
}

func NewTickerCommandHandler(topic string, watchlist *Watchlist, metrics domrepo.Metrics) *TickerCommandHandler {
	return &TickerCommandHandler{topic: topic, watchlist: watchlist, metrics: metrics}
}

func (h *TickerCommandHandler) SetLogger(l *applogger.Logger) { h.l = l }

func (h *TickerCommandHandler) Topic() string { return h.topic }

func (h *TickerCommandHandler) Handle(ctx context.Context, b []byte) error {
	var cmd models.AddTickerRequest
	if err := json.Unmarshal(b, &cmd); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("command_unmarshal")
		}
		return fmt.Errorf("decode ticker command: %w", err)
	}
	if err := pkghttp.Validate(&cmd); err != nil {
		return fmt.Errorf("invalid ticker command: %w", err)
	}
	sym, err := h.watchlist.Add(ctx, cmd.Ticker)
	switch {
	case errors.Is(err, models.ErrTickerExists):
		return nil
	case err != nil:
		return err
	}
	if h.l != nil {
		h.l.Info("ticker added via kafka", applogger.String("ticker", sym), applogger.String("trace_id", pkgkafka.TraceID(ctx)))
	}
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*UpdateCommandHandler)(nil)
	_ pkgkafka.MessageHandler = (*TickerCommandHandler)(nil)
)
