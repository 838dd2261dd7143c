package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"StockCast/internal/domain/models"
	domrepo "StockCast/internal/domain/repository"
	pkgch "StockCast/pkg/clickhouse"
	applogger "StockCast/pkg/logger"

	"github.com/shopspring/decimal"
)

const createPredictionsTable = `
CREATE TABLE IF NOT EXISTS %s (
    date             Date,
    symbol           LowCardinality(String),
    predicted_price  Nullable(Decimal(18, 4)),
    predicted_change Nullable(Float64),
    yhat             Nullable(Decimal(18, 4)),
    yhat_lower       Nullable(Decimal(18, 4)),
    yhat_upper       Nullable(Decimal(18, 4)),
    run_id           String,
    updated_at       DateTime64(3)
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (symbol, date)`

// CHPredictionRepository persists merged prediction rows in ClickHouse.
// Rows are written already coalesced, so the latest version per key is the full row.
type CHPredictionRepository struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.PredictionRepository = (*CHPredictionRepository)(nil)

func NewCHPredictionRepository(ch *pkgch.Client, table string) *CHPredictionRepository {
	if table == "" {
		table = "predictions"
	}
	return &CHPredictionRepository{ch: ch, db: ch.DB(), table: table}
}

// SetLogger injects a structured logger.
func (r *CHPredictionRepository) SetLogger(l *applogger.Logger) { r.l = l }

func (r *CHPredictionRepository) Init(ctx context.Context) error {
	return r.ch.InitSchema(ctx, []string{fmt.Sprintf(createPredictionsTable, r.table)})
}

func (r *CHPredictionRepository) SaveBatch(ctx context.Context, runID string, records []models.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	const chunkSize = 2000
	now := time.Now().UTC()
	for lo := 0; lo < len(records); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(records) {
			hi = len(records)
		}
		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*9)
		for _, rec := range records[lo:hi] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				rec.Date,
				rec.Symbol,
				roundPrice(rec.PredictedPrice),
				rec.PredictedChange,
				roundPrice(rec.Yhat),
				roundPrice(rec.YhatLower),
				roundPrice(rec.YhatUpper),
				runID,
				now,
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (date, symbol, predicted_price, predicted_change, yhat, yhat_lower, yhat_upper, run_id, updated_at) VALUES %s",
			r.table, strings.Join(values, ","))
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			if r.l != nil {
				r.l.Error("clickhouse save_predictions error",
					applogger.String("table", r.table),
					applogger.String("run_id", runID),
					applogger.Int("rows", hi-lo),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("save predictions: %w", err)
		}
	}
	if r.l != nil {
		r.l.Info("clickhouse save_predictions ok",
			applogger.String("table", r.table),
			applogger.String("run_id", runID),
			applogger.Int("rows", len(records)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (r *CHPredictionRepository) LoadAll(ctx context.Context) ([]models.PredictionRecord, error) {
	q := fmt.Sprintf(`
        SELECT date, symbol, predicted_price, predicted_change, yhat, yhat_lower, yhat_upper
        FROM %s FINAL
        ORDER BY date ASC, symbol ASC`, r.table)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load predictions: %w", err)
	}
	defer rows.Close()

	var out []models.PredictionRecord
	for rows.Next() {
		var (
			rec                 models.PredictionRecord
			price, yhat, lo, hi *decimal.Decimal
			change              *float64
		)
		if err := rows.Scan(&rec.Date, &rec.Symbol, &price, &change, &yhat, &lo, &hi); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		rec.PredictedPrice = decimalFloat(price)
		rec.PredictedChange = change
		rec.Yhat = decimalFloat(yhat)
		rec.YhatLower = decimalFloat(lo)
		rec.YhatUpper = decimalFloat(hi)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if r.l != nil {
		r.l.Info("clickhouse load_predictions ok",
			applogger.String("table", r.table),
			applogger.Int("rows", len(out)),
		)
	}
	return out, nil
}

func (r *CHPredictionRepository) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE IF EXISTS %s", r.table)); err != nil {
		return fmt.Errorf("truncate predictions: %w", err)
	}
	return nil
}

func (r *CHPredictionRepository) Health(ctx context.Context) error {
	return r.ch.Health(ctx)
}

// Close is a no-op; the client owns the pool.
func (r *CHPredictionRepository) Close() error { return nil }
