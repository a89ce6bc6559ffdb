package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Coefficient positions within Coefficients.
const (
	Intercept = iota
	Sin
	Cos
	Trend
	NumCoefficients
)

// NoIndex marks the initial segment of a pixel, which has no triggering observation.
const NoIndex = -1

// UnknownCRS is recorded when a raster carries no projection information.
const UnknownCRS = "unknown"

// Coefficients of a harmonic model in fixed order: intercept, sin, cos, trend.
type Coefficients [NumCoefficients]float64

// MarshalJSON writes non-finite values as the strings "NaN", "+Inf" and "-Inf",
// which encoding/json cannot represent as numbers.
func (c Coefficients) MarshalJSON() ([]byte, error) {
	out := make([]any, len(c))
	for i, v := range c {
		switch {
		case math.IsNaN(v):
			out[i] = "NaN"
		case math.IsInf(v, 1):
			out[i] = "+Inf"
		case math.IsInf(v, -1):
			out[i] = "-Inf"
		default:
			out[i] = v
		}
	}
	return json.Marshal(out)
}

func (c *Coefficients) UnmarshalJSON(b []byte) error {
	var in []json.RawMessage
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if len(in) != NumCoefficients {
		return fmt.Errorf("coefficients: got %d values, want %d", len(in), NumCoefficients)
	}
	for i, raw := range in {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("coefficients[%d]: %w", i, err)
			}
			c[i] = v
			continue
		}
		if err := json.Unmarshal(raw, &c[i]); err != nil {
			return fmt.Errorf("coefficients[%d]: %w", i, err)
		}
	}
	return nil
}

// Model is one fitted harmonic regression.
type Model struct {
	Coefficients Coefficients `json:"coefficients"`
	FitStart     time.Time    `json:"fit_start"`
	FitEnd       time.Time    `json:"fit_end"`
	NumObs       int          `json:"num_obs"`
	RMSE         float64      `json:"rmse"`
}

// ChangeEvent is the start of a segment: the observation that triggered it and the model fit from there.
type ChangeEvent struct {
	Index int       // NoIndex for the initial segment
	Date  time.Time // zero for the initial segment
	Model Model
}

// IsInitial reports whether e is the sentinel initial segment.
func (e ChangeEvent) IsInitial() bool {
	return e.Index == NoIndex
}

type changeEventJSON struct {
	Index *int       `json:"index"`
	Date  *time.Time `json:"date"`
	Model Model      `json:"model"`
}

// MarshalJSON encodes the sentinel index and date as null so they stay distinct from zero.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	out := changeEventJSON{Model: e.Model}
	if !e.IsInitial() {
		idx, date := e.Index, e.Date
		out.Index = &idx
		out.Date = &date
	}
	return json.Marshal(out)
}

func (e *ChangeEvent) UnmarshalJSON(b []byte) error {
	var in changeEventJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*e = ChangeEvent{Index: NoIndex, Model: in.Model}
	if in.Index != nil {
		e.Index = *in.Index
	}
	if in.Date != nil {
		e.Date = *in.Date
	}
	return nil
}

// PixelChangeRecord holds every segment found for one pixel, in series order.
type PixelChangeRecord struct {
	Pixel  int           `json:"pixel"`
	Events []ChangeEvent `json:"events"`
}

// Changes returns the non-initial events.
func (r PixelChangeRecord) Changes() []ChangeEvent {
	var out []ChangeEvent
	for _, e := range r.Events {
		if !e.IsInitial() {
			out = append(out, e)
		}
	}
	return out
}

// Models returns one model per segment.
func (r PixelChangeRecord) Models() []Model {
	out := make([]Model, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Model
	}
	return out
}

// Metadata describes the raster grid a collection was computed on.
type Metadata struct {
	Rows       int        `json:"rows"`
	Cols       int        `json:"cols"`
	CRS        string     `json:"crs"`
	Extent     [4]float64 `json:"extent"` // xmin, xmax, ymin, ymax
	Resolution [2]float64 `json:"resolution"`
}

// RasterChangeCollection maps pixel positions (row*Cols + col) to their change records.
// Only pixels with at least one non-initial change are present.
type RasterChangeCollection struct {
	Metadata Metadata                  `json:"metadata"`
	Pixels   map[int]PixelChangeRecord `json:"pixels"`
}

// PixelIDs returns the pixel positions in ascending order.
func (c *RasterChangeCollection) PixelIDs() []int {
	ids := make([]int, 0, len(c.Pixels))
	for id := range c.Pixels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MeasuredChange compares a segment's model with the one before it.
type MeasuredChange struct {
	Index int          `json:"index"`
	Date  time.Time    `json:"date"`
	Old   Coefficients `json:"old"`
	New   Coefficients `json:"new"`
	Raw   Coefficients `json:"raw"`
	Pct   Coefficients `json:"pct"`
}

// ChangeReport is the magnitude report for a collection.
type ChangeReport struct {
	Start  time.Time                `json:"start"`
	End    time.Time                `json:"end"`
	Pixels map[int][]MeasuredChange `json:"pixels"`
}
