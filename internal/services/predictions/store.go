// Package predictions holds the merged prediction table shared by both
// forecasters. Rows are keyed by (date, symbol) and merged column by column.
package predictions

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"StockCast/internal/domain/models"
)

// Store is the in-memory prediction table. The zero value is not usable; call New.
type Store struct {
	mu   sync.RWMutex
	rows map[models.PredictionKey]models.PredictionValues
	keys []models.PredictionKey // sorted by date, then symbol
}

// New creates an empty store.
func New() *Store {
	return &Store{rows: make(map[models.PredictionKey]models.PredictionValues)}
}

// Upsert merges every row of out under symbol and returns the merged rows it touched.
// Existing keys are coalesced per column with the new value winning; unknown keys are inserted.
func (s *Store) Upsert(symbol string, out *models.ForecastOutput) ([]models.PredictionRecord, error) {
	if out == nil {
		return nil, nil
	}
	if out.Positional {
		return nil, fmt.Errorf("upsert %s: %w", symbol, models.ErrUndatedOutput)
	}
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("upsert: empty symbol")
	}
	for _, r := range out.Rows {
		if r.Date.IsZero() {
			return nil, fmt.Errorf("upsert %s step %d: %w", symbol, r.Step, models.ErrUndatedOutput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make([]models.PredictionRecord, 0, len(out.Rows))
	inserted := false
	for _, r := range out.Rows {
		key := Key(r.Date, symbol)
		old, ok := s.rows[key]
		merged := Coalesce(r.Value, old)
		s.rows[key] = merged
		if !ok {
			s.keys = append(s.keys, key)
			inserted = true
		}
		touched = append(touched, models.PredictionRecord{PredictionKey: key, PredictionValues: clone(merged)})
	}
	if inserted {
		sortKeys(s.keys)
	}
	sortRecords(touched)
	return touched, nil
}

// Restore merges persisted records into the store with the same rule as Upsert.
func (s *Store) Restore(records []models.PredictionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r.Date.IsZero() || r.Symbol == "" {
			continue
		}
		key := Key(r.Date, r.Symbol)
		old, ok := s.rows[key]
		s.rows[key] = Coalesce(r.PredictionValues, old)
		if !ok {
			s.keys = append(s.keys, key)
		}
	}
	sortKeys(s.keys)
}

// GetAll returns a copy of the full table ordered by date, then symbol.
func (s *Store) GetAll() []models.PredictionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PredictionRecord, len(s.keys))
	for i, k := range s.keys {
		out[i] = models.PredictionRecord{PredictionKey: k, PredictionValues: clone(s.rows[k])}
	}
	return out
}

// GetForInstrument returns the rows of one symbol ordered by date.
func (s *Store) GetForInstrument(symbol string) []models.DatedPrediction {
	symbol = NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.DatedPrediction
	for _, k := range s.keys {
		if k.Symbol != symbol {
			continue
		}
		out = append(out, models.DatedPrediction{Date: k.Date, PredictionValues: clone(s.rows[k])})
	}
	return out
}

// Symbols lists the distinct symbols present, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, k := range s.keys {
		seen[k.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Reset empties the store.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[models.PredictionKey]models.PredictionValues)
	s.keys = nil
}

// Coalesce merges two rows sharing a key: for each column the newer value is
// kept when present, otherwise the older one.
func Coalesce(newer, older models.PredictionValues) models.PredictionValues {
	return models.PredictionValues{
		PredictedPrice:  pick(newer.PredictedPrice, older.PredictedPrice),
		PredictedChange: pick(newer.PredictedChange, older.PredictedChange),
		Yhat:            pick(newer.Yhat, older.Yhat),
		YhatLower:       pick(newer.YhatLower, older.YhatLower),
		YhatUpper:       pick(newer.YhatUpper, older.YhatUpper),
	}
}

// Key builds the canonical key: the calendar date in UTC and an upper-cased symbol.
func Key(date time.Time, symbol string) models.PredictionKey {
	y, m, d := date.Date()
	return models.PredictionKey{
		Date:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Symbol: NormalizeSymbol(symbol),
	}
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func pick(a, b *float64) *float64 {
	if a != nil {
		v := *a
		return &v
	}
	if b != nil {
		v := *b
		return &v
	}
	return nil
}

func clone(v models.PredictionValues) models.PredictionValues {
	return Coalesce(v, models.PredictionValues{})
}

func less(a, b models.PredictionKey) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.Symbol < b.Symbol
}

func sortKeys(keys []models.PredictionKey) {
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
}

func sortRecords(recs []models.PredictionRecord) {
	sort.Slice(recs, func(i, j int) bool { return less(recs[i].PredictionKey, recs[j].PredictionKey) })
}
