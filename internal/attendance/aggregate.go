package attendance

import (
	"sort"

	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
)

// Apply folds a closed session into record and recomputes the aggregates.
// Open sessions contribute nothing.
func Apply(record *storage.MonthlyRecord, session storage.Session, evaluator policy.Evaluator) {
	if session.Duration == nil {
		return
	}
	if record.DailyLogs == nil {
		record.DailyLogs = make(map[string]float64)
	}
	record.DailyLogs[session.Date] += *session.Duration
	Recompute(record, evaluator)
}

// Recompute derives ValidDays and TotalHours from DailyLogs.
func Recompute(record *storage.MonthlyRecord, evaluator policy.Evaluator) {
	evaluator = policy.Snapshot(evaluator)
	total := 0.0
	valid := 0
	// Fixed summation order keeps the float total reproducible
	for _, date := range sortedDates(record.DailyLogs) {
		hours := record.DailyLogs[date]
		total += hours
		if evaluator.DayValid(hours) {
			valid++
		}
	}
	record.TotalHours = total
	record.ValidDays = valid
}

func sortedDates(logs map[string]float64) []string {
	dates := make([]string, 0, len(logs))
	for date := range logs {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}
