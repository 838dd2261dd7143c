package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// z80 is the standard normal quantile bounding an 80% central interval.
const z80 = 1.2815515655446004

// Seasonality is one Fourier block.
type Seasonality struct {
	Name   string  `yaml:"name"`
	Period float64 `yaml:"period_days"`
	Order  int     `yaml:"order"`
}

// DecompositionConfig shapes the trend + seasonality model.
type DecompositionConfig struct {
	NumChangepoints       int     `yaml:"num_changepoints"`
	ChangepointRange      float64 `yaml:"changepoint_range"`
	ChangepointPriorScale float64 `yaml:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `yaml:"seasonality_prior_scale"`
	Yearly                bool    `yaml:"yearly"`
	Weekly                bool    `yaml:"weekly"`
	Daily                 bool    `yaml:"daily"`
	IntervalWidth         float64 `yaml:"interval_width"`
}

// DefaultDecompositionConfig enables all three seasonalities.
func DefaultDecompositionConfig() DecompositionConfig {
	return DecompositionConfig{
		NumChangepoints:       25,
		ChangepointRange:      0.8,
		ChangepointPriorScale: 0.1,
		SeasonalityPriorScale: 10,
		Yearly:                true,
		Weekly:                true,
		Daily:                 true,
		IntervalWidth:         0.8,
	}
}

func (c DecompositionConfig) seasonalities() []Seasonality {
	var out []Seasonality
	if c.Yearly {
		out = append(out, Seasonality{Name: "yearly", Period: 365.25, Order: 10})
	}
	if c.Weekly {
		out = append(out, Seasonality{Name: "weekly", Period: 7, Order: 3})
	}
	if c.Daily {
		out = append(out, Seasonality{Name: "daily", Period: 1, Order: 4})
	}
	return out
}

// decomposition is a fitted additive model:
// y(t) = k + m*t + sum_j delta_j*(t - s_j)+ + seasonal(t)
type decomposition struct {
	cfg     DecompositionConfig
	start   time.Time
	span    float64 // days covered by history
	scale   float64 // |y| max
	cps     []float64
	seasons []Seasonality
	beta    []float64
	sigma   float64 // residual std in scaled units
	cpRate  float64 // changepoints per unit of scaled time
	cpScale float64 // mean |delta|
}

func fitDecomposition(dates []time.Time, y []float64, cfg DecompositionConfig) (*decomposition, error) {
	n := len(y)
	d := &decomposition{cfg: cfg, start: dates[0], seasons: cfg.seasonalities()}
	d.span = days(dates[n-1].Sub(dates[0]))
	if d.span <= 0 {
		return nil, fmt.Errorf("history spans no time")
	}
	for _, v := range y {
		d.scale = math.Max(d.scale, math.Abs(v))
	}
	if d.scale == 0 {
		d.scale = 1
	}

	ts := make([]float64, n)
	for i, dt := range dates {
		ts[i] = d.scaledTime(dt)
	}
	d.cps = placeChangepoints(ts, cfg.NumChangepoints, cfg.ChangepointRange)
	if len(d.cps) > 0 {
		d.cpRate = float64(len(d.cps))
	}

	design := mat.NewDense(n, d.width(), nil)
	for i, dt := range dates {
		design.SetRow(i, d.features(dt))
	}
	target := make([]float64, n)
	for i, v := range y {
		target[i] = v / d.scale
	}

	// A first pass with a nominal noise level yields the residual variance
	// used to weight the priors in the second pass.
	noise := 0.05 * 0.05
	for pass := 0; pass < 2; pass++ {
		beta, err := ridge(design, target, d.penalties(noise))
		if err != nil {
			return nil, err
		}
		d.beta = beta
		resid := make([]float64, n)
		for i := 0; i < n; i++ {
			resid[i] = target[i] - dot(design.RawRowView(i), beta)
		}
		_, sd := stat.MeanStdDev(resid, nil)
		if n < 2 || math.IsNaN(sd) {
			sd = 0
		}
		d.sigma = sd
		noise = math.Max(sd*sd, 1e-8)
	}

	if len(d.cps) > 0 {
		var sum float64
		for _, delta := range d.beta[2 : 2+len(d.cps)] {
			sum += math.Abs(delta)
		}
		d.cpScale = sum / float64(len(d.cps))
	}
	return d, nil
}

// predict returns yhat and its interval bounds at dt.
func (d *decomposition) predict(dt time.Time) (yhat, lower, upper float64) {
	f := d.features(dt)
	yhat = dot(f, d.beta)

	variance := d.sigma * d.sigma
	if t := d.scaledTime(dt); t > 1 && d.cpScale > 0 {
		// Future changepoints arrive at the historical rate with Laplace
		// magnitudes; each shifts the trend by delta*(t-s).
		h := t - 1
		variance += d.cpRate * 2 * d.cpScale * d.cpScale * h * h * h / 3
	}
	z := normalQuantile(d.cfg.IntervalWidth)
	half := z * math.Sqrt(variance)
	return yhat * d.scale, (yhat - half) * d.scale, (yhat + half) * d.scale
}

func (d *decomposition) width() int {
	w := 2 + len(d.cps)
	for _, s := range d.seasons {
		w += 2 * s.Order
	}
	return w
}

func (d *decomposition) scaledTime(dt time.Time) float64 {
	return days(dt.Sub(d.start)) / d.span
}

func (d *decomposition) features(dt time.Time) []float64 {
	t := d.scaledTime(dt)
	row := make([]float64, 0, d.width())
	row = append(row, 1, t)
	for _, s := range d.cps {
		row = append(row, math.Max(0, t-s))
	}
	epochDays := float64(dt.Unix()) / 86400
	for _, s := range d.seasons {
		for k := 1; k <= s.Order; k++ {
			arg := 2 * math.Pi * float64(k) * epochDays / s.Period
			row = append(row, math.Sin(arg), math.Cos(arg))
		}
	}
	return row
}

// penalties returns per-column ridge weights noise/prior^2.
func (d *decomposition) penalties(noise float64) []float64 {
	p := make([]float64, d.width())
	p[0], p[1] = 1e-8, 1e-8
	cp := d.cfg.ChangepointPriorScale
	for j := range d.cps {
		p[2+j] = noise / (cp * cp)
	}
	sp := d.cfg.SeasonalityPriorScale
	for j := 2 + len(d.cps); j < len(p); j++ {
		p[j] = noise / (sp * sp)
	}
	return p
}

// ridge solves min ||Ax-b||^2 + sum_j pen_j*x_j^2 as an augmented least-squares problem.
func ridge(a *mat.Dense, b []float64, pen []float64) ([]float64, error) {
	n, w := a.Dims()
	aug := mat.NewDense(n+w, w, nil)
	aug.Slice(0, n, 0, w).(*mat.Dense).Copy(a)
	for j := 0; j < w; j++ {
		aug.Set(n+j, j, math.Sqrt(pen[j]))
	}
	rhs := mat.NewVecDense(n+w, nil)
	for i, v := range b {
		rhs.SetVec(i, v)
	}

	var x mat.VecDense
	if err := x.SolveVec(aug, rhs); err != nil {
		// An ill-conditioned system still yields a usable solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("solve decomposition: %w", err)
		}
	}
	out := make([]float64, w)
	for j := range out {
		out[j] = x.AtVec(j)
	}
	return out, nil
}

// placeChangepoints spreads n candidate changepoints over the first rng share
// of the observed times, never more than the history supports.
func placeChangepoints(ts []float64, n int, rng float64) []float64 {
	if n <= 0 || len(ts) < 3 {
		return nil
	}
	limit := int(math.Floor(float64(len(ts)-1) * rng))
	if limit < 1 {
		return nil
	}
	if n > limit {
		n = limit
	}
	cps := make([]float64, 0, n)
	for i := 1; i <= n; i++ {
		idx := int(math.Round(float64(i) * float64(limit) / float64(n)))
		if idx >= len(ts) {
			idx = len(ts) - 1
		}
		if c := ts[idx]; len(cps) == 0 || c > cps[len(cps)-1] {
			cps = append(cps, c)
		}
	}
	return cps
}

func normalQuantile(width float64) float64 {
	if width == 0.8 || width <= 0 || width >= 1 {
		return z80
	}
	return math.Sqrt2 * math.Erfinv(width)
}

func days(d time.Duration) float64 { return d.Hours() / 24 }

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
