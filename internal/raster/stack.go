// Package raster holds the time stack of a single band and applies the segmentation
// engine to every pixel of it.
package raster

import (
	"fmt"
	"math"
	"time"

	"github.com/lox/ccdc/internal/models"
	"github.com/lox/ccdc/internal/segment"
)

// Stack is a rows x cols x time grid of one band. Data is time-major: the value of
// pixel p on date t is Data[t*Rows*Cols+p]. Missing values are NaN.
type Stack struct {
	Rows  int
	Cols  int
	Dates []time.Time
	Data  []float64

	CRS        string
	Extent     [4]float64 // xmin, xmax, ymin, ymax
	Resolution [2]float64
}

// NewStack checks that data holds one rows x cols layer per date.
func NewStack(rows, cols int, dates []time.Time, data []float64) (*Stack, error) {
	s := &Stack{Rows: rows, Cols: cols, Dates: dates, Data: data}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate reports malformed shapes as segment.ErrInvalidConfiguration.
func (s *Stack) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("%w: raster dimensions %dx%d", segment.ErrInvalidConfiguration, s.Rows, s.Cols)
	}
	if len(s.Dates) == 0 {
		return fmt.Errorf("%w: raster stack has no dates", segment.ErrInvalidConfiguration)
	}
	if want := s.Rows * s.Cols * len(s.Dates); len(s.Data) != want {
		return fmt.Errorf("%w: raster stack has %d values, want %d (%dx%dx%d)",
			segment.ErrInvalidConfiguration, len(s.Data), want, s.Rows, s.Cols, len(s.Dates))
	}
	for i := 1; i < len(s.Dates); i++ {
		if calendarDate(s.Dates[i]).Before(calendarDate(s.Dates[i-1])) {
			return fmt.Errorf("%w: stack date %d precedes date %d", segment.ErrInvalidConfiguration, i, i-1)
		}
	}
	return nil
}

// NumPixels is Rows*Cols.
func (s *Stack) NumPixels() int { return s.Rows * s.Cols }

// Pixel returns the linear position of (row, col).
func (s *Stack) Pixel(row, col int) int { return row*s.Cols + col }

// At returns the value of pixel p on date index t.
func (s *Stack) At(p, t int) float64 { return s.Data[t*s.NumPixels()+p] }

// Set stores v for pixel p on date index t.
func (s *Stack) Set(p, t int, v float64) { s.Data[t*s.NumPixels()+p] = v }

// Series extracts the time series of pixel p.
func (s *Stack) Series(p int) segment.Series {
	values := make([]float64, len(s.Dates))
	for t := range values {
		values[t] = s.At(p, t)
	}
	return segment.Series{Dates: s.Dates, Values: values}
}

// CountValid counts non-missing observations of pixel p within the first days calendar
// days of the stack.
func (s *Stack) CountValid(p int, days int) int {
	last := calendarDate(s.Dates[0]).AddDate(0, 0, days-1)
	n := 0
	for t, d := range s.Dates {
		if calendarDate(d).After(last) {
			break
		}
		if !math.IsNaN(s.At(p, t)) {
			n++
		}
	}
	return n
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Metadata describes the grid for a result collection.
func (s *Stack) Metadata() models.Metadata {
	crs := s.CRS
	if crs == "" {
		crs = models.UnknownCRS
	}
	return models.Metadata{
		Rows:       s.Rows,
		Cols:       s.Cols,
		CRS:        crs,
		Extent:     s.Extent,
		Resolution: s.Resolution,
	}
}
