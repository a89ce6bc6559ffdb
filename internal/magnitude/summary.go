package magnitude

import (
	"math"

	"github.com/lox/ccdc/internal/models"
)

// Summary aggregates a report across pixels.
type Summary struct {
	Pixels  int                 `json:"pixels"`
	Changes int                 `json:"changes"`
	MeanRaw models.Coefficients `json:"mean_raw"`
	MaxAbs  models.Coefficients `json:"max_abs_raw"`
}

// Summarize averages raw deltas over every change in report. Pixels counts only pixels with
// at least one change, and non-finite deltas are skipped.
func Summarize(report models.ChangeReport) Summary {
	var s Summary
	var counts [models.NumCoefficients]int
	for _, changes := range report.Pixels {
		if len(changes) == 0 {
			continue
		}
		s.Pixels++
		for _, c := range changes {
			s.Changes++
			for i, v := range c.Raw {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				s.MeanRaw[i] += v
				s.MaxAbs[i] = math.Max(s.MaxAbs[i], math.Abs(v))
				counts[i]++
			}
		}
	}
	for i, n := range counts {
		if n > 0 {
			s.MeanRaw[i] /= float64(n)
		}
	}
	return s
}
