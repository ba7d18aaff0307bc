package storage

import (
	"fmt"
	"time"
)

// DateLayout is the layout of session dates and daily log keys.
const DateLayout = "2006-01-02"

// Session is one attempt to stream. EndTime and Duration are nil while the
// session is open.
type Session struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Date      string     `json:"date"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  *float64   `json:"duration,omitempty"` // hours
}

// IsOpen reports whether the session has not been closed yet.
func (s Session) IsOpen() bool {
	return s.EndTime == nil
}

// MonthlyRecord aggregates one user's closed sessions for a calendar month.
type MonthlyRecord struct {
	UserID     int64              `json:"user_id"`
	Year       int                `json:"year"`
	Month      int                `json:"month"`
	ValidDays  int                `json:"valid_days"`
	TotalHours float64            `json:"total_hours"`
	DailyLogs  map[string]float64 `json:"daily_logs"`
}

// NewMonthlyRecord returns an empty record for the given month.
func NewMonthlyRecord(userID int64, year, month int) *MonthlyRecord {
	return &MonthlyRecord{
		UserID:    userID,
		Year:      year,
		Month:     month,
		DailyLogs: make(map[string]float64),
	}
}

// MonthOf returns the year and month a YYYY-MM-DD date belongs to.
func MonthOf(date string) (int, int, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid session date %q: %w", date, err)
	}
	return t.Year(), int(t.Month()), nil
}
