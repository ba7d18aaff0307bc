// Package opa evaluates attendance validity with a Rego policy.
package opa

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/aiji/internal/policy"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

const (
	dayQuery   = "data.aiji.attendance.day_valid"
	monthQuery = "data.aiji.attendance.month_compliant"
)

//go:embed attendance.rego
var defaultModule string

// Evaluator implements policy.Evaluator with prepared Rego queries.
// Evaluation errors fail closed.
type Evaluator struct {
	thresholds policy.Thresholds
	logger     zerolog.Logger

	dayQuery   rego.PreparedEvalQuery
	monthQuery rego.PreparedEvalQuery
}

// New compiles the policy module. An empty policyFile selects the embedded
// module.
func New(ctx context.Context, thresholds policy.Thresholds, policyFile string, logger zerolog.Logger) (*Evaluator, error) {
	e := &Evaluator{
		thresholds: thresholds,
		logger:     logger.With().Str("component", "opa").Logger(),
	}

	name, module := "attendance.rego", defaultModule
	if policyFile != "" {
		content, err := os.ReadFile(policyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", policyFile, err)
		}
		name, module = policyFile, string(content)
	}

	var err error
	if e.dayQuery, err = prepare(ctx, dayQuery, name, module); err != nil {
		return nil, err
	}
	if e.monthQuery, err = prepare(ctx, monthQuery, name, module); err != nil {
		return nil, err
	}

	// Both rules must be defined and boolean before the evaluator is used
	if _, err := e.evalBool(ctx, e.dayQuery, e.dayInput(0)); err != nil {
		return nil, fmt.Errorf("policy does not define %s: %w", dayQuery, err)
	}
	if _, err := e.evalBool(ctx, e.monthQuery, e.monthInput(0, 0)); err != nil {
		return nil, fmt.Errorf("policy does not define %s: %w", monthQuery, err)
	}

	e.logger.Info().Str("module", name).Msg("Rego attendance policy loaded")
	return e, nil
}

func prepare(ctx context.Context, query, name, module string) (rego.PreparedEvalQuery, error) {
	r := rego.New(
		rego.Query(query),
		rego.Module(name, module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare %s: %w", query, err)
	}
	return prepared, nil
}

// DayValid evaluates day_valid. Errors yield false.
func (e *Evaluator) DayValid(hours float64) bool {
	valid, err := e.evalBool(context.Background(), e.dayQuery, e.dayInput(hours))
	if err != nil {
		e.logger.Error().Err(err).Float64("hours", hours).Msg("day_valid evaluation failed, treating as invalid")
		return false
	}
	return valid
}

// MonthCompliant evaluates month_compliant. Errors yield false.
func (e *Evaluator) MonthCompliant(validDays int, totalHours float64) bool {
	compliant, err := e.evalBool(context.Background(), e.monthQuery, e.monthInput(validDays, totalHours))
	if err != nil {
		e.logger.Error().Err(err).
			Int("valid_days", validDays).
			Float64("total_hours", totalHours).
			Msg("month_compliant evaluation failed, treating as non-compliant")
		return false
	}
	return compliant
}

// Thresholds returns the values passed to the policy as input.thresholds.
func (e *Evaluator) Thresholds() policy.Thresholds {
	return e.thresholds
}

func (e *Evaluator) thresholdInput() map[string]interface{} {
	return map[string]interface{}{
		"min_daily_hours":   e.thresholds.MinDailyHours,
		"min_valid_days":    e.thresholds.MinValidDays,
		"min_monthly_hours": e.thresholds.MinMonthlyHours,
	}
}

func (e *Evaluator) dayInput(hours float64) map[string]interface{} {
	return map[string]interface{}{
		"hours":      hours,
		"thresholds": e.thresholdInput(),
	}
}

func (e *Evaluator) monthInput(validDays int, totalHours float64) map[string]interface{} {
	return map[string]interface{}{
		"valid_days":  validDays,
		"total_hours": totalHours,
		"thresholds":  e.thresholdInput(),
	}
}

func (e *Evaluator) evalBool(ctx context.Context, query rego.PreparedEvalQuery, input map[string]interface{}) (bool, error) {
	startTime := time.Now()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Attendance query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, fmt.Errorf("query result is undefined")
	}

	value, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("query result is not a boolean: %T", results[0].Expressions[0].Value)
	}
	return value, nil
}
