package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StockCast/internal/domain/models"
	domrepo "StockCast/internal/domain/repository"
	applogger "StockCast/pkg/logger"
)

// BarWriter stores bars fetched from the primary source.
type BarWriter interface {
	SaveBars(ctx context.Context, series *models.PriceSeries) error
}

// FallbackPriceSource asks the primary source first and the fallback when it
// fails. The returned series carries the name of the source that served it.
type FallbackPriceSource struct {
	primary  domrepo.PriceSource
	fallback domrepo.PriceSource
	cache    BarWriter
	l        *applogger.Logger
}

var _ domrepo.PriceSource = (*FallbackPriceSource)(nil)

// NewFallbackPriceSource wires the two sources. fallback and cache may be nil.
func NewFallbackPriceSource(primary, fallback domrepo.PriceSource, cache BarWriter) *FallbackPriceSource {
	return &FallbackPriceSource{primary: primary, fallback: fallback, cache: cache}
}

// SetLogger injects a structured logger.
func (f *FallbackPriceSource) SetLogger(l *applogger.Logger) { f.l = l }

func (f *FallbackPriceSource) Name() string {
	if f.fallback == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *FallbackPriceSource) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) (*models.PriceSeries, error) {
	series, err := f.primary.GetDailyBars(ctx, symbol, from, to)
	if err == nil {
		if series.Source == "" {
			series.Source = f.primary.Name()
		}
		if f.cache != nil {
			if cerr := f.cache.SaveBars(ctx, series); cerr != nil && f.l != nil {
				f.l.Warn("cache daily bars failed", applogger.String("symbol", symbol), applogger.Error(cerr))
			}
		}
		return series, nil
	}
	if f.fallback == nil || ctx.Err() != nil {
		return nil, err
	}

	if f.l != nil {
		f.l.Warn("primary price source failed, using fallback",
			applogger.String("symbol", symbol),
			applogger.String("primary", f.primary.Name()),
			applogger.String("fallback", f.fallback.Name()),
			applogger.Error(err),
		)
	}
	series, ferr := f.fallback.GetDailyBars(ctx, symbol, from, to)
	if ferr != nil {
		return nil, fmt.Errorf("all price sources failed: %w", errors.Join(err, ferr))
	}
	if series.Source == "" {
		series.Source = f.fallback.Name()
	}
	return series, nil
}
