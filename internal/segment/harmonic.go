package segment

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/lox/ccdc/internal/models"
)

// Seasonal period of the harmonic terms, in days.
const period = 365.0

// residualTolerance is the relative size below which a residual is treated as roundoff.
const residualTolerance = 1e-9

// harmonicRow fills the design row for day-of-year offset j.
func harmonicRow(row []float64, j float64) {
	w := 2 * math.Pi * j / period
	row[models.Intercept] = 1
	row[models.Sin] = math.Sin(w)
	row[models.Cos] = math.Cos(w)
	row[models.Trend] = j
}

// Predict evaluates the harmonic model at day-of-year offset j.
func predict(c models.Coefficients, j float64) float64 {
	w := 2 * math.Pi * j / period
	return c[models.Intercept] + c[models.Sin]*math.Sin(w) + c[models.Cos]*math.Cos(w) + c[models.Trend]*j
}

// fit is a model fit over one window together with its residuals over the whole series.
type fit struct {
	model     models.Model
	lo, hi    int       // index span of the fit window
	residuals []float64 // observed - predicted for every observation, NaN where missing
}

// fitWindow regresses the valid observations dated within [startDay, endDay].
func (tl *timeline) fitWindow(startDay, endDay int) (*fit, error) {
	lo, hi := tl.span(startDay, endDay)
	n := tl.validPrefix[hi] - tl.validPrefix[lo]
	if n < 2 {
		return nil, fmt.Errorf("%w: %d observations in fit window", ErrInsufficientData, n)
	}

	x := mat.NewDense(n, models.NumCoefficients, nil)
	y := mat.NewVecDense(n, nil)
	row := make([]float64, models.NumCoefficients)
	k := 0
	scale := 0.0
	for i := lo; i < hi; i++ {
		if !tl.valid[i] {
			continue
		}
		harmonicRow(row, tl.julian[i])
		x.SetRow(k, row)
		y.SetVec(k, tl.values[i])
		scale = math.Max(scale, math.Abs(tl.values[i]))
		k++
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientData, err)
		}
	}

	var coef models.Coefficients
	for i := range coef {
		coef[i] = beta.AtVec(i)
		if math.IsNaN(coef[i]) || math.IsInf(coef[i], 0) {
			return nil, fmt.Errorf("%w: singular fit window", ErrInsufficientData)
		}
	}

	tol := residualTolerance * (1 + scale)
	residuals := make([]float64, tl.len())
	sumSq := 0.0
	for i := range residuals {
		if !tl.valid[i] {
			residuals[i] = math.NaN()
			continue
		}
		r := tl.values[i] - predict(coef, tl.julian[i])
		if math.Abs(r) <= tol {
			r = 0
		}
		residuals[i] = r
		if i >= lo && i < hi {
			sumSq += r * r
		}
	}

	return &fit{
		model: models.Model{
			Coefficients: coef,
			FitStart:     dateOf(startDay),
			FitEnd:       dateOf(endDay),
			NumObs:       n,
			RMSE:         math.Sqrt(sumSq / float64(n)),
		},
		lo:        lo,
		hi:        hi,
		residuals: residuals,
	}, nil
}

// windowResiduals returns the residuals of the valid observations inside the fit window.
func (f *fit) windowResiduals() []float64 {
	out := make([]float64, 0, f.model.NumObs)
	for _, r := range f.residuals[f.lo:f.hi] {
		if !math.IsNaN(r) {
			out = append(out, r)
		}
	}
	return out
}
