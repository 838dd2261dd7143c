package features

import (
	"fmt"
	"math"

	"StockCast/internal/domain/models"
)

// Mode selects how much history is used for training.
type Mode string

const (
	// ModeProduction trains on every row and forecasts past the last date.
	ModeProduction Mode = "production"
	// ModeBacktest holds out the last H rows for evaluation.
	ModeBacktest Mode = "backtest"
)

// ParseMode maps a config or request string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeProduction:
		return ModeProduction, nil
	case ModeBacktest:
		return ModeBacktest, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// TrainingData is the supervised set plus everything needed to continue the series.
type TrainingData struct {
	Mode       Mode
	Window     int
	Horizon    int
	X          [][]float64 // Window changes followed by the selected aux columns
	Y          []float64
	Candidates int // samples considered before dropping those with missing values
	AuxFields  []string

	LastClose  float64
	LastWindow []float64
	LastAux    []float64

	Index      ForecastIndex
	RealFuture []float64 // backtest only
}

// BuildTrainingData slices the prepared series into sliding windows of
// changes[t-W:t] paired with changes[t].
//
// Production mode uses every row; backtest mode trains only on rows before
// N-H and returns the held-out closes in RealFuture.
func BuildTrainingData(p *Prepared, window, horizon int, mode Mode) (*TrainingData, error) {
	if window < 1 || horizon < 1 {
		return nil, fmt.Errorf("window and horizon must be positive, got %d and %d", window, horizon)
	}
	n := p.Len()

	split := n
	switch mode {
	case ModeBacktest:
		if n <= window+horizon+1 {
			return nil, &models.InsufficientDataError{Stage: "build", Need: window + horizon + 1, Have: n}
		}
		split = n - horizon
	case ModeProduction:
		if n <= window+1 {
			return nil, &models.InsufficientDataError{Stage: "build", Need: window + 1, Have: n}
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	td := &TrainingData{
		Mode:       mode,
		Window:     window,
		Horizon:    horizon,
		LastClose:  p.Close[split-1],
		LastWindow: append([]float64(nil), p.Changes[split-window:split]...),
		Candidates: split - window,
	}
	if hasNaN(td.LastWindow) {
		return nil, &models.InsufficientDataError{Stage: "build", Need: window, Have: window, Reason: "last window contains missing changes"}
	}

	auxCols := selectAux(p, split-1)
	td.X, td.Y = collectSamples(p, window, split, auxCols)
	if len(td.Y) == 0 && len(auxCols) > 0 {
		auxCols = nil
		td.X, td.Y = collectSamples(p, window, split, nil)
	}
	if len(td.Y) == 0 {
		return nil, &models.InsufficientDataError{Stage: "build", Need: 0, Have: 0, Reason: "no valid training samples"}
	}
	td.AuxFields = make([]string, len(auxCols))
	td.LastAux = make([]float64, len(auxCols))
	for k, j := range auxCols {
		td.AuxFields[k] = p.AuxFields[j]
		td.LastAux[k] = p.Aux[split-1][j]
	}

	if mode == ModeBacktest {
		td.RealFuture = append([]float64(nil), p.Close[split:]...)
		td.Index = HoldoutIndex(p.Dates[split:], p.Undated)
	} else if p.Undated {
		td.Index = ForecastIndex{Positional: true, Cadence: CadencePositional, Len: horizon}
	} else {
		td.Index = InferForecastIndex(p.Dates, horizon)
	}
	return td, nil
}

func collectSamples(p *Prepared, window, split int, auxCols []int) ([][]float64, []float64) {
	var xs [][]float64
	var ys []float64
	for t := window; t < split; t++ {
		w := p.Changes[t-window : t]
		target := p.Changes[t]
		if hasNaN(w) || math.IsNaN(target) {
			continue
		}
		row := make([]float64, 0, window+len(auxCols))
		row = append(row, w...)
		missing := false
		for _, j := range auxCols {
			v := p.Aux[t-1][j]
			if math.IsNaN(v) {
				missing = true
				break
			}
			row = append(row, v)
		}
		if missing {
			continue
		}
		xs = append(xs, row)
		ys = append(ys, target)
	}
	return xs, ys
}

// selectAux keeps the auxiliary columns known at the forecast origin; a column
// missing there could not be supplied during rollout.
func selectAux(p *Prepared, origin int) []int {
	if len(p.AuxFields) == 0 || len(p.Aux) == 0 {
		return nil
	}
	cols := make([]int, 0, len(p.AuxFields))
	for j := range p.AuxFields {
		if !math.IsNaN(p.Aux[origin][j]) {
			cols = append(cols, j)
		}
	}
	return cols
}

func hasNaN(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
