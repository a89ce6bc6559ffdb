// Package segment implements the walk-forward change detection that splits one pixel's
// time series into harmonic model segments.
//
// Each iteration fits a harmonic regression (intercept, annual sine and cosine, linear
// trend) to a date window, flags later observations whose residuals are abnormal, and
// confirms a change at the first flagged observation whose flag window is dense enough.
// The next iteration starts its fit at the confirmed change.
package segment

import (
	"errors"
	"fmt"

	"github.com/lox/ccdc/internal/models"
)

// Outcome describes how a segmentation run ended.
type Outcome struct {
	Iterations int
	Halted     bool  // a fit window could not be regressed
	HaltErr    error // the fit error when Halted
}

// Engine runs segmentation with a fixed, validated parameter set. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	params Params
}

// NewEngine validates params and resolves the default threshold.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: params.Resolved()}, nil
}

// Params returns the resolved parameters.
func (e *Engine) Params() Params { return e.params }

// Detect segments series. The returned record's first event, when present, is the initial
// segment with index models.NoIndex. An error is returned only for a malformed series.
func (e *Engine) Detect(series Series) (models.PixelChangeRecord, Outcome, error) {
	var rec models.PixelChangeRecord
	var out Outcome
	if err := series.validate(); err != nil {
		return rec, out, err
	}
	if series.Len() == 0 {
		return rec, out, nil
	}

	tl := newTimeline(series)
	p := e.params
	start := 0
	trigger := models.NoIndex

	for tl.days[start] < tl.lastDay() {
		out.Iterations++
		startDay := tl.days[start]
		endDay := startDay + p.FitDays - 1

		f, err := tl.fitWindow(startDay, endDay)
		if err != nil {
			out.Halted = true
			out.HaltErr = err
			break
		}
		ev := models.ChangeEvent{Index: trigger, Model: f.model}
		if trigger != models.NoIndex {
			ev.Date = series.Dates[trigger]
		}
		rec.Events = append(rec.Events, ev)

		if endDay >= tl.lastDay() {
			break
		}

		rule := newFlagRule(p.FlagStat, p.Threshold, f.windowResiduals())
		flagged := make([]bool, tl.len())
		for i, r := range f.residuals {
			flagged[i] = tl.valid[i] && rule(r)
		}

		next, ok := newFlagScan(tl, p, flagged, endDay).run()
		if !ok {
			break
		}
		start, trigger = next, next
	}
	return rec, out, nil
}

// DetectSeriesChanges validates params and segments a single series.
func DetectSeriesChanges(series Series, params Params) (models.PixelChangeRecord, error) {
	eng, err := NewEngine(params)
	if err != nil {
		return models.PixelChangeRecord{}, err
	}
	rec, _, err := eng.Detect(series)
	if err != nil {
		return models.PixelChangeRecord{}, fmt.Errorf("detect series changes: %w", err)
	}
	return rec, nil
}

// IsInsufficientData reports whether err came from a fit window that could not be regressed.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}
