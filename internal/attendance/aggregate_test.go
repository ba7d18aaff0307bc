package attendance

import (
	"math/rand"
	"testing"

	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
)

func closedSession(date string, hours float64) storage.Session {
	return storage.Session{Date: date, Duration: &hours}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		sessions  []storage.Session
		wantValid int
		wantTotal float64
	}{
		{"single short day", []storage.Session{closedSession("2024-03-01", 2.0)}, 0, 2.0},
		{"two halves make a day", []storage.Session{
			closedSession("2024-03-01", 1.5),
			closedSession("2024-03-01", 1.5),
		}, 1, 3.0},
		{"boundary day", []storage.Session{closedSession("2024-03-01", 2.5)}, 1, 2.5},
		{"separate days", []storage.Session{
			closedSession("2024-03-01", 3),
			closedSession("2024-03-02", 1),
			closedSession("2024-03-03", 4),
		}, 2, 8},
		{"open session ignored", []storage.Session{{Date: "2024-03-01"}}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := storage.NewMonthlyRecord(42, 2024, 3)
			for _, s := range tt.sessions {
				Apply(record, s, policy.Defaults())
			}
			if record.ValidDays != tt.wantValid || record.TotalHours != tt.wantTotal {
				t.Fatalf("expected %d valid days and %v hours, got %d and %v",
					tt.wantValid, tt.wantTotal, record.ValidDays, record.TotalHours)
			}
		})
	}
}

func TestApplyKeepsRecordInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	evaluator := policy.Defaults()
	record := storage.NewMonthlyRecord(42, 2024, 3)
	dates := []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-15", "2024-03-31"}

	for i := 0; i < 200; i++ {
		hours := float64(rng.Intn(16)) * 0.25
		Apply(record, closedSession(dates[rng.Intn(len(dates))], hours), evaluator)

		sum := 0.0
		valid := 0
		for _, date := range sortedDates(record.DailyLogs) {
			sum += record.DailyLogs[date]
			if evaluator.DayValid(record.DailyLogs[date]) {
				valid++
			}
		}
		if record.TotalHours != sum {
			t.Fatalf("step %d: total %v != sum %v", i, record.TotalHours, sum)
		}
		if record.ValidDays != valid {
			t.Fatalf("step %d: valid days %d != %d", i, record.ValidDays, valid)
		}
	}
}

func TestRecomputeUsesEvaluator(t *testing.T) {
	record := &storage.MonthlyRecord{DailyLogs: map[string]float64{"2024-03-01": 2.0, "2024-03-02": 3.0}}

	Recompute(record, policy.Defaults())
	if record.ValidDays != 1 {
		t.Fatalf("expected 1 valid day under defaults, got %d", record.ValidDays)
	}

	Recompute(record, policy.Thresholds{MinDailyHours: 2})
	if record.ValidDays != 2 {
		t.Fatalf("expected 2 valid days with a 2h minimum, got %d", record.ValidDays)
	}
}
