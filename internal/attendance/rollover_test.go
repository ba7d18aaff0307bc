package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/aiji/internal/policy"
	"github.com/rs/zerolog"
)

func TestRunMonthlyRollover(t *testing.T) {
	store := openTestStore(t)
	evaluator := policy.Thresholds{MinDailyHours: 2.5, MinValidDays: 2, MinMonthlyHours: 5}
	tracker := NewTracker(store.Attendance(), evaluator, shanghai, zerolog.Nop())
	reporter := NewReporter(store.Attendance(), evaluator, shanghai, ReporterConfig{}, zerolog.Nop())
	ctx := context.Background()

	// User 1 is compliant, user 2 is not.
	stream(t, tracker, 1, at(1, 20, 0), 3*time.Hour)
	stream(t, tracker, 1, at(2, 20, 0), 3*time.Hour)
	stream(t, tracker, 2, at(1, 20, 0), time.Hour)

	// User 3 goes live on the last evening and is still live at rollover.
	if _, err := tracker.Open(ctx, 3, time.Date(2024, 3, 31, 23, 0, 0, 0, shanghai)); err != nil {
		t.Fatalf("open: %v", err)
	}

	before, err := store.Attendance().GetMonthlyRecord(ctx, 1, 2024, 3)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}

	now := time.Date(2024, 4, 1, 0, 5, 0, 0, shanghai)
	report, err := reporter.RunMonthlyRollover(ctx, now)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}

	if report.Year != 2024 || report.Month != 3 {
		t.Fatalf("expected March 2024, got %d-%02d", report.Year, report.Month)
	}
	if len(report.Compliant) != 1 || report.Compliant[0].UserID != 1 {
		t.Fatalf("expected user 1 compliant, got %+v", report.Compliant)
	}
	if len(report.NonCompliant) != 1 || report.NonCompliant[0].UserID != 2 {
		t.Fatalf("expected user 2 non-compliant, got %+v", report.NonCompliant)
	}
	if len(report.StillLive) != 1 || report.StillLive[0].UserID != 3 {
		t.Fatalf("expected user 3 still live, got %+v", report.StillLive)
	}

	after, err := store.Attendance().GetMonthlyRecord(ctx, 1, 2024, 3)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if after.TotalHours != before.TotalHours || after.ValidDays != before.ValidDays || len(after.DailyLogs) != len(before.DailyLogs) {
		t.Fatalf("rollover must not modify the finalised month: %+v vs %+v", before, after)
	}

	again, err := reporter.RunMonthlyRollover(ctx, now)
	if err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	if len(again.Compliant) != 1 || len(again.NonCompliant) != 1 {
		t.Fatalf("expected repeatable report, got %+v", again)
	}
}

func TestRolloverAcrossYearBoundary(t *testing.T) {
	store := openTestStore(t)
	reporter := NewReporter(store.Attendance(), policy.Defaults(), shanghai, ReporterConfig{}, zerolog.Nop())

	report, err := reporter.RunMonthlyRollover(context.Background(), time.Date(2025, 1, 1, 0, 5, 0, 0, shanghai))
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if report.Year != 2024 || report.Month != 12 {
		t.Fatalf("expected December 2024, got %d-%02d", report.Year, report.Month)
	}
	if len(report.Compliant) != 0 || len(report.NonCompliant) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}
