// Package magnitude measures how much each detected change moved the harmonic model
// coefficients relative to the segment before it.
package magnitude

import (
	"fmt"
	"time"

	"github.com/lox/ccdc/internal/models"
	"github.com/lox/ccdc/internal/segment"
)

// IndexRange is an inclusive range of indices into the stack dates.
type IndexRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r IndexRange) contains(i int) bool { return i >= r.Start && i <= r.End }

// Measure compares two consecutive models. Pct is Raw divided by the old coefficient and
// is non-finite where that coefficient is zero.
func Measure(old, new models.Coefficients) (raw, pct models.Coefficients) {
	for i := range raw {
		raw[i] = new[i] - old[i]
		pct[i] = raw[i] / old[i]
	}
	return raw, pct
}

// MeasurePixel pairs every change of rec with the segment before it.
func MeasurePixel(rec models.PixelChangeRecord) []models.MeasuredChange {
	var out []models.MeasuredChange
	for i := 1; i < len(rec.Events); i++ {
		ev := rec.Events[i]
		if ev.IsInitial() {
			continue
		}
		old := rec.Events[i-1].Model.Coefficients
		raw, pct := Measure(old, ev.Model.Coefficients)
		out = append(out, models.MeasuredChange{
			Index: ev.Index,
			Date:  ev.Date,
			Old:   old,
			New:   ev.Model.Coefficients,
			Raw:   raw,
			Pct:   pct,
		})
	}
	return out
}

// MeasureChanges builds the magnitude report for coll. With a nil subrange the report
// covers every date and keeps every change; otherwise only changes triggered inside the
// subrange are kept and pixels left without any are dropped.
func MeasureChanges(coll *models.RasterChangeCollection, dates []time.Time, subrange *IndexRange) (models.ChangeReport, error) {
	if len(dates) == 0 {
		return models.ChangeReport{}, fmt.Errorf("%w: no dates to report against", segment.ErrInvalidConfiguration)
	}
	report := models.ChangeReport{
		Start:  dates[0],
		End:    dates[len(dates)-1],
		Pixels: make(map[int][]models.MeasuredChange),
	}
	if subrange != nil {
		if subrange.Start < 0 || subrange.End >= len(dates) || subrange.Start > subrange.End {
			return models.ChangeReport{}, fmt.Errorf("%w: date subrange [%d, %d] outside [0, %d]",
				segment.ErrInvalidConfiguration, subrange.Start, subrange.End, len(dates)-1)
		}
		report.Start = dates[subrange.Start]
		report.End = dates[subrange.End]
	}
	if coll == nil {
		return report, nil
	}

	for _, id := range coll.PixelIDs() {
		changes := MeasurePixel(coll.Pixels[id])
		if subrange != nil {
			kept := changes[:0]
			for _, c := range changes {
				if subrange.contains(c.Index) {
					kept = append(kept, c)
				}
			}
			if len(kept) == 0 {
				continue
			}
			changes = kept
		}
		report.Pixels[id] = changes
	}
	return report, nil
}
