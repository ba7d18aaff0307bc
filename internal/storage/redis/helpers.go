package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/aiji/internal/storage"
)

const (
	keySessionSeq   = "aiji:sessions:seq"
	keyLiveSessions = "aiji:sessions:live"
	keyConfig       = "aiji:config"
	keyPrefixUsers  = "aiji:sessions:user:"
)

func sessionKey(id int64) string {
	return fmt.Sprintf("aiji:session:%d", id)
}

func openSessionKey(userID int64) string {
	return fmt.Sprintf("aiji:sessions:open:%d", userID)
}

func userSessionsKey(userID int64) string {
	return keyPrefixUsers + strconv.FormatInt(userID, 10)
}

func monthlyKey(userID int64, year, month int) string {
	return fmt.Sprintf("aiji:monthly:%04d:%02d:%d", year, month, userID)
}

func monthlyIndexKey(year, month int) string {
	return fmt.Sprintf("aiji:monthly:index:%04d:%02d", year, month)
}

// sessionFields converts a Session to Redis hash fields. Open sessions
// carry empty end_time and duration.
func sessionFields(session storage.Session) map[string]any {
	fields := map[string]any{
		"id":         session.ID,
		"user_id":    session.UserID,
		"date":       session.Date,
		"start_time": session.StartTime.Format(time.RFC3339Nano),
		"end_time":   "",
		"duration":   "",
	}
	if session.EndTime != nil {
		fields["end_time"] = session.EndTime.Format(time.RFC3339Nano)
	}
	if session.Duration != nil {
		fields["duration"] = strconv.FormatFloat(*session.Duration, 'f', -1, 64)
	}
	return fields
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	id, err := strconv.ParseInt(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	userID, err := strconv.ParseInt(data["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user_id: %w", err)
	}

	start, err := time.Parse(time.RFC3339Nano, data["start_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	session := &storage.Session{
		ID:        id,
		UserID:    userID,
		Date:      data["date"],
		StartTime: start,
	}

	if raw := data["end_time"]; raw != "" {
		end, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end_time: %w", err)
		}
		session.EndTime = &end
	}

	if raw := data["duration"]; raw != "" {
		duration, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration: %w", err)
		}
		session.Duration = &duration
	}

	return session, nil
}

func monthlyFields(record storage.MonthlyRecord) (map[string]any, error) {
	logs := record.DailyLogs
	if logs == nil {
		logs = make(map[string]float64)
	}
	encoded, err := json.Marshal(logs)
	if err != nil {
		return nil, fmt.Errorf("marshal daily_logs: %w", err)
	}
	return map[string]any{
		"user_id":     record.UserID,
		"year":        record.Year,
		"month":       record.Month,
		"valid_days":  record.ValidDays,
		"total_hours": strconv.FormatFloat(record.TotalHours, 'f', -1, 64),
		"daily_logs":  string(encoded),
	}, nil
}

// parseMonthlyRecord converts a Redis hash to MonthlyRecord
func parseMonthlyRecord(data map[string]string) (*storage.MonthlyRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	userID, err := strconv.ParseInt(data["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user_id: %w", err)
	}

	year, err := strconv.Atoi(data["year"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse year: %w", err)
	}

	month, err := strconv.Atoi(data["month"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse month: %w", err)
	}

	validDays, err := strconv.Atoi(data["valid_days"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse valid_days: %w", err)
	}

	totalHours, err := strconv.ParseFloat(data["total_hours"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_hours: %w", err)
	}

	logs := make(map[string]float64)
	if raw := data["daily_logs"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &logs); err != nil {
			return nil, fmt.Errorf("failed to parse daily_logs: %w", err)
		}
	}

	return &storage.MonthlyRecord{
		UserID:     userID,
		Year:       year,
		Month:      month,
		ValidDays:  validDays,
		TotalHours: totalHours,
		DailyLogs:  logs,
	}, nil
}
