package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"StockCast/internal/domain/models"
	domrepo "StockCast/internal/domain/repository"
	applogger "StockCast/pkg/logger"

	_ "modernc.org/sqlite"
)

// Auxiliary column names produced from the fundamentals table.
const (
	AuxEPSActual     = "eps_actual"
	AuxEPSEstimate   = "eps_estimate"
	AuxSurprisePct   = "surprise_pct"
	AuxPERatio       = "pe_ratio"
	AuxDividendYield = "dividend_yield"
	AuxBookValue     = "book_value"
)

var marketSchema = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		symbol   TEXT PRIMARY KEY,
		added_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_prices (
		symbol         TEXT NOT NULL,
		date           TEXT NOT NULL,
		open           REAL,
		high           REAL,
		low            REAL,
		close          REAL,
		adjusted_close REAL,
		PRIMARY KEY (symbol, date)
	)`,
	`CREATE TABLE IF NOT EXISTS volume_data (
		symbol TEXT NOT NULL,
		date   TEXT NOT NULL,
		volume REAL,
		PRIMARY KEY (symbol, date)
	)`,
	`CREATE TABLE IF NOT EXISTS fundamentals (
		symbol             TEXT NOT NULL,
		date               TEXT NOT NULL,
		earnings_per_share REAL,
		eps_estimate       REAL,
		surprise_pct       REAL,
		pe_ratio           REAL,
		dividend_yield     REAL,
		book_value         REAL,
		PRIMARY KEY (symbol, date)
	)`,
}

// SQLiteMarketStore is the local market database. It serves daily bars when the
// live provider is unavailable, fundamentals as auxiliary records, and the
// tracked ticker list.
type SQLiteMarketStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes
	l  *applogger.Logger
}

var (
	_ domrepo.PriceSource     = (*SQLiteMarketStore)(nil)
	_ domrepo.AuxiliarySource = (*SQLiteMarketStore)(nil)
	_ domrepo.TickerStore     = (*SQLiteMarketStore)(nil)
)

// NewSQLiteMarketStore opens (or creates) the database at path and applies the schema.
func NewSQLiteMarketStore(path string) (*SQLiteMarketStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	for _, stmt := range marketSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return &SQLiteMarketStore{db: db}, nil
}

// SetLogger injects a structured logger.
func (s *SQLiteMarketStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *SQLiteMarketStore) Name() string { return "sqlite" }

func (s *SQLiteMarketStore) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) (*models.PriceSeries, error) {
	const q = `
		SELECT p.date, p.open, p.high, p.low, p.close, p.adjusted_close, v.volume
		FROM daily_prices p
		LEFT JOIN volume_data v ON p.symbol = v.symbol AND p.date = v.date
		WHERE p.symbol = ? AND p.date >= ? AND p.date <= ?
		ORDER BY p.date ASC`
	sym := strings.ToUpper(symbol)
	rows, err := s.db.QueryContext(ctx, q, sym, from.Format(models.DateLayout), to.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("sqlite daily bars %s: %w", sym, err)
	}
	defer rows.Close()

	series := &models.PriceSeries{Symbol: sym, Source: s.Name()}
	for rows.Next() {
		var (
			date                          string
			open, high, low, cl, adj, vol sql.NullFloat64
		)
		if err := rows.Scan(&date, &open, &high, &low, &cl, &adj, &vol); err != nil {
			return nil, fmt.Errorf("scan daily bar: %w", err)
		}
		d, err := time.Parse(models.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("daily bar %s: bad date %q: %w", sym, date, err)
		}
		series.Bars = append(series.Bars, models.PriceBar{
			Date:     d,
			Open:     nullable(open),
			High:     nullable(high),
			Low:      nullable(low),
			Close:    nullable(cl),
			AdjClose: nullable(adj),
			Volume:   nullable(vol),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(series.Bars) == 0 {
		return nil, fmt.Errorf("sqlite %s: %w", sym, models.ErrTickerNotFound)
	}
	if s.l != nil {
		s.l.Debug("sqlite daily bars",
			applogger.String("symbol", sym),
			applogger.Int("bars", len(series.Bars)),
		)
	}
	return series, nil
}

// GetAuxiliary returns one record per fundamentals row, oldest first. Null
// columns are left out of Values.
func (s *SQLiteMarketStore) GetAuxiliary(ctx context.Context, symbol string) ([]models.AuxiliaryRecord, error) {
	const q = `
		SELECT date, earnings_per_share, eps_estimate, surprise_pct, pe_ratio, dividend_yield, book_value
		FROM fundamentals
		WHERE symbol = ?
		ORDER BY date ASC`
	rows, err := s.db.QueryContext(ctx, q, strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("sqlite fundamentals %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []models.AuxiliaryRecord
	for rows.Next() {
		var (
			date                           string
			eps, est, surprise, pe, dy, bv sql.NullFloat64
		)
		if err := rows.Scan(&date, &eps, &est, &surprise, &pe, &dy, &bv); err != nil {
			return nil, fmt.Errorf("scan fundamentals: %w", err)
		}
		d, err := time.Parse(models.DateLayout, date)
		if err != nil {
			continue
		}
		rec := models.AuxiliaryRecord{Date: d, Values: make(map[string]float64, 6)}
		for name, v := range map[string]sql.NullFloat64{
			AuxEPSActual:     eps,
			AuxEPSEstimate:   est,
			AuxSurprisePct:   surprise,
			AuxPERatio:       pe,
			AuxDividendYield: dy,
			AuxBookValue:     bv,
		} {
			if v.Valid {
				rec.Values[name] = v.Float64
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveBars upserts bars so the fallback has data the next time the live source fails.
func (s *SQLiteMarketStore) SaveBars(ctx context.Context, series *models.PriceSeries) error {
	if series == nil || len(series.Bars) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	priceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_prices (symbol, date, open, high, low, close, adjusted_close)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, adjusted_close = excluded.adjusted_close`)
	if err != nil {
		return fmt.Errorf("prepare prices: %w", err)
	}
	defer priceStmt.Close()
	volStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO volume_data (symbol, date, volume) VALUES (?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("prepare volume: %w", err)
	}
	defer volStmt.Close()

	sym := strings.ToUpper(series.Symbol)
	for _, b := range series.Bars {
		if b.Date.IsZero() {
			continue
		}
		d := b.Date.Format(models.DateLayout)
		if _, err := priceStmt.ExecContext(ctx, sym, d, sqlFloat(b.Open), sqlFloat(b.High), sqlFloat(b.Low), sqlFloat(b.Close), sqlFloat(b.AdjClose)); err != nil {
			return fmt.Errorf("save bar %s %s: %w", sym, d, err)
		}
		if _, err := volStmt.ExecContext(ctx, sym, d, sqlFloat(b.Volume)); err != nil {
			return fmt.Errorf("save volume %s %s: %w", sym, d, err)
		}
	}
	return tx.Commit()
}

// SaveFundamentals upserts one fundamentals row.
func (s *SQLiteMarketStore) SaveFundamentals(ctx context.Context, symbol string, rec models.AuxiliaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	val := func(k string) sql.NullFloat64 {
		v, ok := rec.Values[k]
		return sql.NullFloat64{Float64: v, Valid: ok}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fundamentals (symbol, date, earnings_per_share, eps_estimate, surprise_pct, pe_ratio, dividend_yield, book_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			earnings_per_share = excluded.earnings_per_share, eps_estimate = excluded.eps_estimate,
			surprise_pct = excluded.surprise_pct, pe_ratio = excluded.pe_ratio,
			dividend_yield = excluded.dividend_yield, book_value = excluded.book_value`,
		strings.ToUpper(symbol), rec.Date.Format(models.DateLayout),
		val(AuxEPSActual), val(AuxEPSEstimate), val(AuxSurprisePct), val(AuxPERatio), val(AuxDividendYield), val(AuxBookValue),
	)
	if err != nil {
		return fmt.Errorf("save fundamentals %s: %w", symbol, err)
	}
	return nil
}

func (s *SQLiteMarketStore) ListTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT symbol FROM stocks ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// AddTicker returns models.ErrTickerExists when the symbol is already tracked.
func (s *SQLiteMarketStore) AddTicker(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sym := strings.ToUpper(strings.TrimSpace(symbol))
	res, err := s.db.ExecContext(ctx, "INSERT INTO stocks (symbol, added_at) VALUES (?, ?) ON CONFLICT(symbol) DO NOTHING", sym, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("add ticker %s: %w", sym, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("add ticker %s: %w", sym, models.ErrTickerExists)
	}
	return nil
}

// TickerExists reports whether the symbol is in the stocks table.
func (s *SQLiteMarketStore) TickerExists(ctx context.Context, symbol string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM stocks WHERE symbol = ?", strings.ToUpper(symbol)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ticker exists: %w", err)
	}
	return true, nil
}

func (s *SQLiteMarketStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteMarketStore) Close() error {
	return s.db.Close()
}

func nullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func sqlFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
