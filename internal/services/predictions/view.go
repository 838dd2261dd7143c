package predictions

import "StockCast/internal/domain/models"

// Nested is the public JSON shape {symbol: {date: {column: value}}}.
// Null columns are omitted.
type Nested map[string]map[string]map[string]float64

// NestedView groups records by symbol then date.
func NestedView(records []models.PredictionRecord) Nested {
	out := make(Nested)
	for _, r := range records {
		byDate, ok := out[r.Symbol]
		if !ok {
			byDate = make(map[string]map[string]float64)
			out[r.Symbol] = byDate
		}
		byDate[r.Date.Format(models.DateLayout)] = r.Columns()
	}
	return out
}

// InstrumentView is the single-symbol shape {date: {column: value}}.
func InstrumentView(rows []models.DatedPrediction) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Date.Format(models.DateLayout)] = r.Columns()
	}
	return out
}
