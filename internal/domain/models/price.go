package models

import (
	"math"
	"time"
)

// PriceBar is one trading day of OHLCV data. Missing numeric values are NaN.
type PriceBar struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   float64
}

// HasClose reports whether the bar has a usable close.
func (b PriceBar) HasClose() bool {
	return !math.IsNaN(b.Close) && !math.IsInf(b.Close, 0)
}

// PriceSeries is a daily series for one instrument as delivered by a price source.
type PriceSeries struct {
	Symbol string
	Bars   []PriceBar
	Source string // yahoo, sqlite, ...
}

// Len returns the number of bars.
func (s PriceSeries) Len() int { return len(s.Bars) }

// AuxiliaryRecord is a sparse, lower-frequency observation such as quarterly earnings.
type AuxiliaryRecord struct {
	Date   time.Time
	Values map[string]float64
}

// EnrichedBar is a price bar with the as-of auxiliary values attached.
type EnrichedBar struct {
	PriceBar
	AuxDate *time.Time
	Aux     map[string]*float64
}

// EnrichedSeries is the output of the as-of join and the input of the forecasters.
type EnrichedSeries struct {
	Symbol    string
	Bars      []EnrichedBar
	AuxFields []string
}

// PlainSeries wraps a price series without auxiliary columns.
func PlainSeries(s PriceSeries) EnrichedSeries {
	bars := make([]EnrichedBar, len(s.Bars))
	for i, b := range s.Bars {
		bars[i] = EnrichedBar{PriceBar: b}
	}
	return EnrichedSeries{Symbol: s.Symbol, Bars: bars}
}

// DatedPrice is a (date, price) pair.
type DatedPrice struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}
