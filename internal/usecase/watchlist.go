package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"StockCast/internal/domain/models"
	domrepo "StockCast/internal/domain/repository"
	"StockCast/internal/services/predictions"
	applogger "StockCast/pkg/logger"
)

// Watchlist manages the tracked instruments.
type Watchlist struct {
	store  domrepo.TickerStore
	prices domrepo.PriceSource
	probe  time.Duration
	now    func() time.Time
	l      *applogger.Logger
}

func NewWatchlist(store domrepo.TickerStore, prices domrepo.PriceSource) *Watchlist {
	return &Watchlist{store: store, prices: prices, probe: 30 * 24 * time.Hour, now: time.Now}
}

func (w *Watchlist) SetLogger(l *applogger.Logger) { w.l = l }

// List returns the tracked symbols, sorted.
func (w *Watchlist) List(ctx context.Context) ([]string, error) {
	syms, err := w.store.ListTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	out := dedupe(syms)
	sort.Strings(out)
	return out, nil
}

// Add tracks symbol after checking that the price source knows it.
func (w *Watchlist) Add(ctx context.Context, symbol string) (string, error) {
	sym := predictions.NormalizeSymbol(symbol)
	if sym == "" {
		return "", fmt.Errorf("%w: empty symbol", models.ErrTickerNotFound)
	}
	tracked, err := w.List(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range tracked {
		if t == sym {
			return sym, models.ErrTickerExists
		}
	}

	if w.prices != nil {
		to := w.now().UTC()
		series, err := w.prices.GetDailyBars(ctx, sym, to.Add(-w.probe), to)
		if err != nil {
			if errors.Is(err, models.ErrTickerNotFound) {
				return sym, err
			}
			return sym, fmt.Errorf("verify %s: %w", sym, err)
		}
		if series == nil || series.Len() == 0 {
			return sym, fmt.Errorf("%w: %s has no recent prices", models.ErrTickerNotFound, sym)
		}
	}

	if err := w.store.AddTicker(ctx, sym); err != nil {
		return sym, err
	}
	if w.l != nil {
		w.l.Info("ticker added", applogger.String("symbol", sym))
	}
	return sym, nil
}

// Seed tracks symbols without verifying them. Already tracked symbols are skipped.
func (w *Watchlist) Seed(ctx context.Context, symbols []string) error {
	for _, s := range dedupe(symbols) {
		err := w.store.AddTicker(ctx, s)
		if err != nil && !errors.Is(err, models.ErrTickerExists) {
			return fmt.Errorf("seed %s: %w", s, err)
		}
	}
	return nil
}

// dedupe normalizes symbols and drops blanks and repeats, keeping first-seen order.
func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = predictions.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
