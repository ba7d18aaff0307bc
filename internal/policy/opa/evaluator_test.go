package opa

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goodtune/aiji/internal/policy"
	"github.com/rs/zerolog"
)

func newTestEvaluator(t *testing.T, thresholds policy.Thresholds, file string) *Evaluator {
	t.Helper()
	e, err := New(context.Background(), thresholds, file, zerolog.Nop())
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	return e
}

func TestAgreesWithBuiltin(t *testing.T) {
	for _, th := range []policy.Thresholds{
		policy.Defaults(),
		{MinDailyHours: 3, MinValidDays: 20, MinMonthlyHours: 40},
		{MinDailyHours: 0, MinValidDays: 0, MinMonthlyHours: 0},
	} {
		e := newTestEvaluator(t, th, "")

		for _, hours := range []float64{0, 1.5, 2.0, 2.5, 2.9999, 3, 12} {
			if got, want := e.DayValid(hours), th.DayValid(hours); got != want {
				t.Errorf("%+v DayValid(%v): rego %v, builtin %v", th, hours, got, want)
			}
		}

		for _, c := range []struct {
			days  int
			hours float64
		}{{0, 0}, {19, 40}, {20, 39.9}, {20, 40}, {22, 50}, {21, 50}, {22, 49.5}, {31, 100}} {
			if got, want := e.MonthCompliant(c.days, c.hours), th.MonthCompliant(c.days, c.hours); got != want {
				t.Errorf("%+v MonthCompliant(%d, %v): rego %v, builtin %v", th, c.days, c.hours, got, want)
			}
		}

		if e.Thresholds() != th {
			t.Errorf("expected thresholds %+v, got %+v", th, e.Thresholds())
		}
	}
}

func TestCustomPolicyFile(t *testing.T) {
	// A stricter policy that ignores the monthly hours floor.
	module := `package aiji.attendance

import rego.v1

default day_valid := false

day_valid if input.hours > input.thresholds.min_daily_hours

default month_compliant := false

month_compliant if input.valid_days >= input.thresholds.min_valid_days
`
	path := filepath.Join(t.TempDir(), "custom.rego")
	if err := os.WriteFile(path, []byte(module), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	e := newTestEvaluator(t, policy.Defaults(), path)
	if e.DayValid(2.5) {
		t.Error("custom policy requires strictly more than the minimum")
	}
	if !e.MonthCompliant(22, 0) {
		t.Error("custom policy ignores monthly hours")
	}
}

func TestRejectsPolicyWithoutRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.rego")
	if err := os.WriteFile(path, []byte("package aiji.other\n\nallow := true\n"), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, err := New(context.Background(), policy.Defaults(), path, zerolog.Nop()); err == nil {
		t.Fatal("expected error for policy missing attendance rules")
	}
}

func TestMissingPolicyFile(t *testing.T) {
	if _, err := New(context.Background(), policy.Defaults(), "/nonexistent/attendance.rego", zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
