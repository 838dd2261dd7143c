package features

import (
	"math"
	"sort"

	"StockCast/internal/domain/models"
)

// AlignAsOf attaches to every price bar the most recent auxiliary record dated
// at or before it. Bars before the first record get nil auxiliary columns.
// Bars without a date or close are dropped and counted.
func AlignAsOf(prices models.PriceSeries, aux []models.AuxiliaryRecord) (models.EnrichedSeries, int) {
	recs := make([]models.AuxiliaryRecord, 0, len(aux))
	fieldSet := make(map[string]struct{})
	for _, r := range aux {
		if r.Date.IsZero() {
			continue
		}
		recs = append(recs, r)
		for k := range r.Values {
			fieldSet[k] = struct{}{}
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })

	fields := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	out := models.EnrichedSeries{
		Symbol:    prices.Symbol,
		Bars:      make([]models.EnrichedBar, 0, len(prices.Bars)),
		AuxFields: fields,
	}
	dropped := 0
	for _, b := range prices.Bars {
		if b.Date.IsZero() || !b.HasClose() {
			dropped++
			continue
		}
		eb := models.EnrichedBar{PriceBar: b}
		if i := asOfIndex(recs, b); i >= 0 {
			d := recs[i].Date
			eb.AuxDate = &d
			eb.Aux = make(map[string]*float64, len(fields))
			for _, f := range fields {
				v, ok := recs[i].Values[f]
				if !ok || math.IsNaN(v) {
					eb.Aux[f] = nil
					continue
				}
				eb.Aux[f] = models.Float(v)
			}
		}
		out.Bars = append(out.Bars, eb)
	}
	return out, dropped
}

// asOfIndex returns the index of the last record with Date <= bar date, or -1.
func asOfIndex(recs []models.AuxiliaryRecord, b models.PriceBar) int {
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Date.After(b.Date) })
	return i - 1
}
