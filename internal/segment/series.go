package segment

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Series is one pixel's observations. Missing values are NaN.
type Series struct {
	Dates  []time.Time
	Values []float64
}

// NewSeries checks that dates and values line up and that dates never go backwards.
func NewSeries(dates []time.Time, values []float64) (Series, error) {
	s := Series{Dates: dates, Values: values}
	if err := s.validate(); err != nil {
		return Series{}, err
	}
	return s, nil
}

func (s Series) Len() int { return len(s.Dates) }

func (s Series) validate() error {
	if len(s.Dates) != len(s.Values) {
		return fmt.Errorf("%w: %d dates for %d values", ErrInvalidConfiguration, len(s.Dates), len(s.Values))
	}
	for i := 1; i < len(s.Dates); i++ {
		if dayNumber(s.Dates[i]) < dayNumber(s.Dates[i-1]) {
			return fmt.Errorf("%w: date %d (%s) precedes date %d (%s)", ErrInvalidConfiguration,
				i, s.Dates[i].Format("2006-01-02"), i-1, s.Dates[i-1].Format("2006-01-02"))
		}
	}
	return nil
}

// dayNumber is the number of whole days between the Unix epoch and t's calendar date.
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func dateOf(day int) time.Time {
	return time.Unix(int64(day)*86400, 0).UTC()
}

// timeline is the working form of a Series with day numbers and running counts.
type timeline struct {
	days   []int
	values []float64
	valid  []bool
	julian []float64

	validPrefix []int // validPrefix[i] = valid observations before index i
}

func newTimeline(s Series) *timeline {
	n := s.Len()
	tl := &timeline{
		days:        make([]int, n),
		values:      s.Values,
		valid:       make([]bool, n),
		julian:      make([]float64, n),
		validPrefix: make([]int, n+1),
	}
	if n == 0 {
		return tl
	}
	y := s.Dates[0].Year()
	yearStart := dayNumber(time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC))
	for i, d := range s.Dates {
		tl.days[i] = dayNumber(d)
		tl.julian[i] = float64(tl.days[i] - yearStart + 1)
		tl.valid[i] = !math.IsNaN(s.Values[i])
		tl.validPrefix[i+1] = tl.validPrefix[i]
		if tl.valid[i] {
			tl.validPrefix[i+1]++
		}
	}
	return tl
}

func (tl *timeline) len() int { return len(tl.days) }

func (tl *timeline) lastDay() int { return tl.days[len(tl.days)-1] }

// span returns the half-open index range of observations dated within [from, to].
func (tl *timeline) span(from, to int) (lo, hi int) {
	lo = sort.SearchInts(tl.days, from)
	hi = sort.Search(len(tl.days), func(i int) bool { return tl.days[i] > to })
	return lo, hi
}

func (tl *timeline) countValid(from, to int) int {
	lo, hi := tl.span(from, to)
	return tl.validPrefix[hi] - tl.validPrefix[lo]
}
