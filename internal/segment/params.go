package segment

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidConfiguration is returned before any work starts when parameters or input
	// shapes are unusable.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientData means a fit window held too few observations to regress.
	ErrInsufficientData = errors.New("insufficient data")
)

// FlagStat selects how residuals are turned into flags.
type FlagStat string

const (
	FlagRMSE FlagStat = "rmse"
	FlagIQR  FlagStat = "iqr"
	FlagZ    FlagStat = "z"
)

// ParseFlagStat accepts rmse, iqr or z in any case.
func ParseFlagStat(s string) (FlagStat, error) {
	fs := FlagStat(strings.ToLower(strings.TrimSpace(s)))
	switch fs {
	case FlagRMSE, FlagIQR, FlagZ:
		return fs, nil
	}
	return "", fmt.Errorf("%w: unknown flag stat %q", ErrInvalidConfiguration, s)
}

// DefaultThreshold is the flagging constant used when Params.Threshold is zero.
// For FlagZ it is a two-sided tail probability.
func DefaultThreshold(fs FlagStat) float64 {
	switch fs {
	case FlagRMSE:
		return 3
	case FlagIQR:
		return 1.5
	case FlagZ:
		return 0.005
	}
	return 0
}

// Params configures one run of the segmentation engine.
type Params struct {
	FitDays      int      `json:"fit_days"`      // fit window length in days
	FlagDays     int      `json:"flag_days"`     // flag window length in days
	FlagFraction float64  `json:"flag_fraction"` // share of observations in a flag window that must be flagged, (0, 1]
	FirstHalf    float64  `json:"first_half"`    // share of FlagFraction required in the first half of the window, [0, 0.5]
	FlagStat     FlagStat `json:"flag_stat"`
	Threshold    float64  `json:"threshold"` // zero selects DefaultThreshold(FlagStat)
}

// DefaultParams returns the parameters used by the CLI when nothing is overridden.
func DefaultParams() Params {
	return Params{
		FitDays:      365,
		FlagDays:     365,
		FlagFraction: 0.9,
		FirstHalf:    0.25,
		FlagStat:     FlagRMSE,
	}
}

// Validate checks p without side effects.
func (p Params) Validate() error {
	if _, err := ParseFlagStat(string(p.FlagStat)); err != nil {
		return err
	}
	if p.FitDays < 1 {
		return fmt.Errorf("%w: fit window must be at least 1 day, got %d", ErrInvalidConfiguration, p.FitDays)
	}
	if p.FlagDays < 1 {
		return fmt.Errorf("%w: flag window must be at least 1 day, got %d", ErrInvalidConfiguration, p.FlagDays)
	}
	if !(p.FlagFraction > 0 && p.FlagFraction <= 1) {
		return fmt.Errorf("%w: flag fraction must be in (0, 1], got %v", ErrInvalidConfiguration, p.FlagFraction)
	}
	if !(p.FirstHalf >= 0 && p.FirstHalf <= 0.5) {
		return fmt.Errorf("%w: first half must be in [0, 0.5], got %v", ErrInvalidConfiguration, p.FirstHalf)
	}
	if p.Threshold < 0 || math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be a non-negative finite number, got %v", ErrInvalidConfiguration, p.Threshold)
	}
	if p.FlagStat == FlagZ && p.Threshold >= 1 {
		return fmt.Errorf("%w: z threshold is a tail probability and must be below 1, got %v", ErrInvalidConfiguration, p.Threshold)
	}
	return nil
}

// Resolved returns a copy of p with the flag stat normalised and the default threshold filled in.
func (p Params) Resolved() Params {
	if fs, err := ParseFlagStat(string(p.FlagStat)); err == nil {
		p.FlagStat = fs
	}
	if p.Threshold == 0 {
		p.Threshold = DefaultThreshold(p.FlagStat)
	}
	return p
}
