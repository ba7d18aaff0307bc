// Package policy decides whether accumulated streaming hours make a valid
// day and whether a month's totals are compliant.
package policy

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Config table keys that override the thresholds.
const (
	KeyMinHours   = "min_hours"
	KeyMonthDays  = "month_days"
	KeyTotalHours = "total_hours"
)

// Evaluator maps accumulated hours to day validity and month compliance.
// Implementations must be pure and safe for concurrent use.
type Evaluator interface {
	DayValid(hours float64) bool
	MonthCompliant(validDays int, totalHours float64) bool
	Thresholds() Thresholds
}

// Thresholds is the built-in evaluator. Boundary equality counts as
// valid/compliant.
type Thresholds struct {
	MinDailyHours   float64 `json:"min_daily_hours"`
	MinValidDays    int     `json:"min_valid_days"`
	MinMonthlyHours float64 `json:"min_monthly_hours"`
}

// Defaults returns 2.5 hours per day, 22 days and 50 hours per month.
func Defaults() Thresholds {
	return Thresholds{
		MinDailyHours:   2.5,
		MinValidDays:    22,
		MinMonthlyHours: 50,
	}
}

// DayValid reports whether hours reaches the daily minimum.
func (t Thresholds) DayValid(hours float64) bool {
	return hours >= t.MinDailyHours
}

// MonthCompliant reports whether both monthly minimums are met.
func (t Thresholds) MonthCompliant(validDays int, totalHours float64) bool {
	return validDays >= t.MinValidDays && totalHours >= t.MinMonthlyHours
}

// Thresholds returns t.
func (t Thresholds) Thresholds() Thresholds {
	return t
}

// Validate rejects negative thresholds.
func (t Thresholds) Validate() error {
	if t.MinDailyHours < 0 {
		return fmt.Errorf("min daily hours must not be negative: %v", t.MinDailyHours)
	}
	if t.MinValidDays < 0 {
		return fmt.Errorf("min valid days must not be negative: %d", t.MinValidDays)
	}
	if t.MinMonthlyHours < 0 {
		return fmt.Errorf("min monthly hours must not be negative: %v", t.MinMonthlyHours)
	}
	return nil
}

// WithOverrides layers persisted config values over t. Unknown keys are
// ignored. Malformed values leave the corresponding threshold unchanged and
// are reported in the joined error.
func (t Thresholds) WithOverrides(settings map[string]string) (Thresholds, error) {
	var errs []error

	if raw, ok := settings[KeyMinHours]; ok {
		if v, err := parseHours(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyMinHours, err))
		} else {
			t.MinDailyHours = v
		}
	}

	if raw, ok := settings[KeyMonthDays]; ok {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyMonthDays, err))
		} else if v < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", KeyMonthDays))
		} else {
			t.MinValidDays = v
		}
	}

	if raw, ok := settings[KeyTotalHours]; ok {
		if v, err := parseHours(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyTotalHours, err))
		} else {
			t.MinMonthlyHours = v
		}
	}

	return t, errors.Join(errs...)
}

// ValidateSetting checks a single config value before it is persisted.
// Keys the ledger does not recognise are accepted as-is.
func ValidateSetting(key, value string) error {
	_, err := Thresholds{}.WithOverrides(map[string]string{key: value})
	return err
}

func parseHours(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("must be a finite number")
	}
	if v < 0 {
		return 0, errors.New("must not be negative")
	}
	return v, nil
}
