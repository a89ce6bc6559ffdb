package segment

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// flagRule reports whether a residual is abnormal for the current model.
type flagRule func(r float64) bool

// newFlagRule derives the flag rule for stat fs with constant c from the fit window's residuals.
func newFlagRule(fs FlagStat, c float64, window []float64) flagRule {
	switch fs {
	case FlagRMSE:
		sumSq := 0.0
		for _, r := range window {
			sumSq += r * r
		}
		limit := c * math.Sqrt(sumSq/float64(len(window)))
		return func(r float64) bool { return r > 0 && r >= limit }

	case FlagIQR:
		sorted := append([]float64(nil), window...)
		sort.Float64s(sorted)
		q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
		q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
		iqr := q3 - q1
		lower, upper := q1-c*iqr, q3+c*iqr
		return func(r float64) bool { return r < lower || r > upper }

	case FlagZ:
		mean, sd := stat.MeanStdDev(window, nil)
		// c is a two-sided tail probability, so the cutoff is the c/2 lower-tail quantile.
		crit := math.Abs(distuv.UnitNormal.Quantile(c / 2))
		return func(r float64) bool { return math.Abs((r-mean)/sd) >= crit }
	}
	return func(float64) bool { return false }
}
