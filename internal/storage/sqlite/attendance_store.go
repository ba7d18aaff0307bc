package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goodtune/aiji/internal/storage"
)

const sessionColumns = `id, user_id, date, start_time, end_time, duration`

type attendanceStore struct {
	db *sql.DB
}

func (s *attendanceStore) Update(ctx context.Context, fn func(tx storage.AttendanceTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&attendanceTx{ctx: ctx, q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *attendanceStore) GetSession(ctx context.Context, id int64) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *attendanceStore) GetOpenSession(ctx context.Context, userID int64) (*storage.Session, error) {
	return getOpenSession(ctx, s.db, userID)
}

func (s *attendanceStore) ListOpenSessions(ctx context.Context) ([]storage.Session, error) {
	return querySessions(ctx, s.db,
		`SELECT `+sessionColumns+` FROM sessions WHERE end_time IS NULL ORDER BY user_id`)
}

func (s *attendanceStore) ListSessions(ctx context.Context, userID int64, fromDate, toDate string) ([]storage.Session, error) {
	if toDate == "" {
		toDate = "9999-12-31"
	}
	return querySessions(ctx, s.db,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND date >= ? AND date <= ?
		 ORDER BY start_time, id`,
		userID, fromDate, toDate)
}

func (s *attendanceStore) GetMonthlyRecord(ctx context.Context, userID int64, year, month int) (*storage.MonthlyRecord, error) {
	return getMonthlyRecord(ctx, s.db, userID, year, month)
}

func (s *attendanceStore) ListMonthlyRecords(ctx context.Context, year, month int) ([]storage.MonthlyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, year, month, valid_days, total_hours, daily_logs
		 FROM monthly_records WHERE year = ? AND month = ? ORDER BY user_id`,
		year, month)
	if err != nil {
		return nil, fmt.Errorf("list monthly records: %w", err)
	}
	defer rows.Close()

	records := make([]storage.MonthlyRecord, 0)
	for rows.Next() {
		record, err := scanMonthlyRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list monthly records: %w", err)
	}
	return records, nil
}

// attendanceTx binds an *sql.Tx to the context of the enclosing Update.
type attendanceTx struct {
	ctx context.Context
	q   querier
}

func (t *attendanceTx) GetOpenSession(userID int64) (*storage.Session, error) {
	return getOpenSession(t.ctx, t.q, userID)
}

func (t *attendanceTx) InsertSession(session *storage.Session) error {
	result, err := t.q.ExecContext(t.ctx,
		`INSERT INTO sessions (user_id, date, start_time, end_time, duration) VALUES (?, ?, ?, ?, ?)`,
		session.UserID, session.Date, formatTime(session.StartTime), nullTime(session), nullDuration(session))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert session id: %w", err)
	}
	session.ID = id
	return nil
}

func (t *attendanceTx) UpdateSession(session storage.Session) error {
	result, err := t.q.ExecContext(t.ctx,
		`UPDATE sessions SET date = ?, start_time = ?, end_time = ?, duration = ? WHERE id = ? AND user_id = ?`,
		session.Date, formatTime(session.StartTime), nullTime(&session), nullDuration(&session), session.ID, session.UserID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *attendanceTx) GetMonthlyRecord(userID int64, year, month int) (*storage.MonthlyRecord, error) {
	return getMonthlyRecord(t.ctx, t.q, userID, year, month)
}

func (t *attendanceTx) PutMonthlyRecord(record storage.MonthlyRecord) error {
	logs := record.DailyLogs
	if logs == nil {
		logs = map[string]float64{}
	}
	data, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("marshal daily logs: %w", err)
	}

	_, err = t.q.ExecContext(t.ctx,
		`INSERT INTO monthly_records (user_id, year, month, valid_days, total_hours, daily_logs)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, year, month) DO UPDATE SET
			valid_days = excluded.valid_days,
			total_hours = excluded.total_hours,
			daily_logs = excluded.daily_logs`,
		record.UserID, record.Year, record.Month, record.ValidDays, record.TotalHours, string(data))
	if err != nil {
		return fmt.Errorf("put monthly record: %w", err)
	}
	return nil
}

func getOpenSession(ctx context.Context, q querier, userID int64) (*storage.Session, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND end_time IS NULL`, userID)
	return scanSession(row)
}

func getMonthlyRecord(ctx context.Context, q querier, userID int64, year, month int) (*storage.MonthlyRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT user_id, year, month, valid_days, total_hours, daily_logs
		 FROM monthly_records WHERE user_id = ? AND year = ? AND month = ?`,
		userID, year, month)
	return scanMonthlyRecord(row)
}

func querySessions(ctx context.Context, q querier, query string, args ...any) ([]storage.Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]storage.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*storage.Session, error) {
	var (
		session  storage.Session
		start    string
		end      sql.NullString
		duration sql.NullFloat64
	)
	if err := row.Scan(&session.ID, &session.UserID, &session.Date, &start, &end, &duration); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	startTime, err := parseTime(start)
	if err != nil {
		return nil, err
	}
	session.StartTime = startTime

	if end.Valid {
		endTime, err := parseTime(end.String)
		if err != nil {
			return nil, err
		}
		session.EndTime = &endTime
	}
	if duration.Valid {
		hours := duration.Float64
		session.Duration = &hours
	}
	return &session, nil
}

func scanMonthlyRecord(row scanner) (*storage.MonthlyRecord, error) {
	var (
		record storage.MonthlyRecord
		logs   sql.NullString
	)
	if err := row.Scan(&record.UserID, &record.Year, &record.Month, &record.ValidDays, &record.TotalHours, &logs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan monthly record: %w", err)
	}

	record.DailyLogs = make(map[string]float64)
	if logs.Valid && logs.String != "" {
		if err := json.Unmarshal([]byte(logs.String), &record.DailyLogs); err != nil {
			return nil, fmt.Errorf("unmarshal daily logs: %w", err)
		}
	}
	return &record, nil
}

func nullTime(session *storage.Session) sql.NullString {
	if session.EndTime == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*session.EndTime), Valid: true}
}

func nullDuration(session *storage.Session) sql.NullFloat64 {
	if session.Duration == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *session.Duration, Valid: true}
}
