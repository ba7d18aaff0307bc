// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/aiji/internal/storage"
)

// Opener returns a fresh, empty store. The store is closed by the suite.
type Opener func(t *testing.T) storage.Store

var errAbort = errors.New("abort")

// Run runs the conformance suite against the store returned by open.
func Run(t *testing.T, open Opener) {
	t.Run("InsertAndGetOpenSession", func(t *testing.T) { testInsertAndGetOpen(t, open) })
	t.Run("SecondOpenSessionConflicts", func(t *testing.T) { testSecondOpenConflicts(t, open) })
	t.Run("CloseSession", func(t *testing.T) { testCloseSession(t, open) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, open) })
	t.Run("MonthlyRecords", func(t *testing.T) { testMonthlyRecords(t, open) })
	t.Run("ListSessions", func(t *testing.T) { testListSessions(t, open) })
	t.Run("ListOpenSessions", func(t *testing.T) { testListOpenSessions(t, open) })
	t.Run("Config", func(t *testing.T) { testConfig(t, open) })
}

func openStore(t *testing.T, open Opener) storage.Store {
	t.Helper()
	store := open(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertOpen(t *testing.T, store storage.Store, userID int64, start time.Time) storage.Session {
	t.Helper()
	session := storage.Session{
		UserID:    userID,
		Date:      start.Format(storage.DateLayout),
		StartTime: start,
	}
	err := store.Attendance().Update(context.Background(), func(tx storage.AttendanceTx) error {
		return tx.InsertSession(&session)
	})
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if session.ID == 0 {
		t.Fatalf("expected insert to assign a session id")
	}
	return session
}

func closeSession(t *testing.T, store storage.Store, session storage.Session, end time.Time) storage.Session {
	t.Helper()
	hours := end.Sub(session.StartTime).Hours()
	session.EndTime = &end
	session.Duration = &hours
	err := store.Attendance().Update(context.Background(), func(tx storage.AttendanceTx) error {
		return tx.UpdateSession(session)
	})
	if err != nil {
		t.Fatalf("update session: %v", err)
	}
	return session
}

func testInsertAndGetOpen(t *testing.T, open Opener) {
	store := openStore(t, open)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	inserted := insertOpen(t, store, 42, start)

	got, err := store.Attendance().GetOpenSession(ctx, 42)
	if err != nil {
		t.Fatalf("get open session: %v", err)
	}
	if got.ID != inserted.ID {
		t.Errorf("expected session id %d, got %d", inserted.ID, got.ID)
	}
	if got.Date != "2024-03-01" {
		t.Errorf("expected date 2024-03-01, got %s", got.Date)
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("expected start %v, got %v", start, got.StartTime)
	}
	if !got.IsOpen() || got.Duration != nil {
		t.Errorf("expected open session without duration, got %+v", got)
	}

	if _, err := store.Attendance().GetOpenSession(ctx, 7); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for idle user, got %v", err)
	}
}

func testSecondOpenConflicts(t *testing.T, open Opener) {
	store := openStore(t, open)
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	insertOpen(t, store, 42, start)

	second := storage.Session{UserID: 42, Date: "2024-03-01", StartTime: start.Add(time.Minute)}
	err := store.Attendance().Update(context.Background(), func(tx storage.AttendanceTx) error {
		return tx.InsertSession(&second)
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	open42, err := store.Attendance().ListSessions(context.Background(), 42, "", "")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(open42) != 1 {
		t.Fatalf("expected 1 session row, got %d", len(open42))
	}
}

func testCloseSession(t *testing.T, open Opener) {
	store := openStore(t, open)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	session := insertOpen(t, store, 42, start)
	closeSession(t, store, session, start.Add(3*time.Hour))

	if _, err := store.Attendance().GetOpenSession(ctx, 42); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no open session after close, got %v", err)
	}

	got, err := store.Attendance().GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.IsOpen() {
		t.Fatalf("expected closed session")
	}
	if got.Duration == nil || *got.Duration != 3.0 {
		t.Fatalf("expected duration 3.0, got %v", got.Duration)
	}

	// A closed session frees the user for a new one.
	next := insertOpen(t, store, 42, start.Add(4*time.Hour))
	if next.ID == session.ID {
		t.Fatalf("expected a new session id")
	}
}

func testRollback(t *testing.T, open Opener) {
	store := openStore(t, open)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	err := store.Attendance().Update(ctx, func(tx storage.AttendanceTx) error {
		session := storage.Session{UserID: 42, Date: "2024-03-01", StartTime: start}
		if err := tx.InsertSession(&session); err != nil {
			return err
		}
		record := storage.NewMonthlyRecord(42, 2024, 3)
		record.DailyLogs["2024-03-01"] = 3
		record.TotalHours = 3
		record.ValidDays = 1
		if err := tx.PutMonthlyRecord(*record); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected abort error to propagate, got %v", err)
	}

	if _, err := store.Attendance().GetOpenSession(ctx, 42); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected session insert to be rolled back, got %v", err)
	}
	if _, err := store.Attendance().GetMonthlyRecord(ctx, 42, 2024, 3); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected monthly record write to be rolled back, got %v", err)
	}
	sessions, err := store.Attendance().ListSessions(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no session rows, got %d", len(sessions))
	}
}

func testMonthlyRecords(t *testing.T, open Opener) {
	store := openStore(t, open)
	ctx := context.Background()

	if _, err := store.Attendance().GetMonthlyRecord(ctx, 42, 2024, 3); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first write, got %v", err)
	}

	records := []storage.MonthlyRecord{
		{UserID: 42, Year: 2024, Month: 3, ValidDays: 1, TotalHours: 4.5,
			DailyLogs: map[string]float64{"2024-03-01": 3, "2024-03-02": 1.5}},
		{UserID: 7, Year: 2024, Month: 3, ValidDays: 0, TotalHours: 1,
			DailyLogs: map[string]float64{"2024-03-05": 1}},
		{UserID: 42, Year: 2024, Month: 4, ValidDays: 0, TotalHours: 0,
			DailyLogs: map[string]float64{}},
	}
	err := store.Attendance().Update(ctx, func(tx storage.AttendanceTx) error {
		for _, record := range records {
			if err := tx.PutMonthlyRecord(record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("put monthly records: %v", err)
	}

	got, err := store.Attendance().GetMonthlyRecord(ctx, 42, 2024, 3)
	if err != nil {
		t.Fatalf("get monthly record: %v", err)
	}
	if got.ValidDays != 1 || got.TotalHours != 4.5 {
		t.Errorf("unexpected aggregates: %+v", got)
	}
	if len(got.DailyLogs) != 2 || got.DailyLogs["2024-03-02"] != 1.5 {
		t.Errorf("unexpected daily logs: %v", got.DailyLogs)
	}

	// Overwrite within a transaction and read back through the tx.
	err = store.Attendance().Update(ctx, func(tx storage.AttendanceTx) error {
		current, err := tx.GetMonthlyRecord(42, 2024, 3)
		if err != nil {
			return err
		}
		current.DailyLogs["2024-03-03"] = 2
		current.TotalHours = 6.5
		return tx.PutMonthlyRecord(*current)
	})
	if err != nil {
		t.Fatalf("update monthly record: %v", err)
	}

	march, err := store.Attendance().ListMonthlyRecords(ctx, 2024, 3)
	if err != nil {
		t.Fatalf("list monthly records: %v", err)
	}
	if len(march) != 2 {
		t.Fatalf("expected 2 records for March, got %d", len(march))
	}
	if march[0].UserID != 7 || march[1].UserID != 42 {
		t.Errorf("expected records ordered by user id, got %d, %d", march[0].UserID, march[1].UserID)
	}
	if march[1].TotalHours != 6.5 || len(march[1].DailyLogs) != 3 {
		t.Errorf("expected updated record, got %+v", march[1])
	}
}

func testListSessions(t *testing.T, open Opener) {
	store := openStore(t, open)
	ctx := context.Background()

	base := time.Date(2024, 2, 28, 20, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		start := base.AddDate(0, 0, i)
		session := insertOpen(t, store, 42, start)
		closeSession(t, store, session, start.Add(time.Hour))
	}
	insertOpen(t, store, 7, base)

	all, err := store.Attendance().ListSessions(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 sessions, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.Before(all[i-1].StartTime) {
			t.Fatalf("expected sessions ordered by start time")
		}
	}

	march, err := store.Attendance().ListSessions(ctx, 42, "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("list sessions in range: %v", err)
	}
	if len(march) != 2 {
		t.Fatalf("expected 2 March sessions, got %d", len(march))
	}
	for _, s := range march {
		if s.UserID != 42 {
			t.Errorf("expected only user 42, got %d", s.UserID)
		}
	}
}

func testListOpenSessions(t *testing.T, open Opener) {
	store := openStore(t, open)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	insertOpen(t, store, 9, start)
	closed := insertOpen(t, store, 5, start)
	closeSession(t, store, closed, start.Add(time.Hour))
	insertOpen(t, store, 3, start)

	sessions, err := store.Attendance().ListOpenSessions(ctx)
	if err != nil {
		t.Fatalf("list open sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 open sessions, got %d", len(sessions))
	}
	if sessions[0].UserID != 3 || sessions[1].UserID != 9 {
		t.Errorf("expected open sessions for users 3 and 9, got %d and %d", sessions[0].UserID, sessions[1].UserID)
	}
}

func testConfig(t *testing.T, open Opener) {
	store := openStore(t, open)
	ctx := context.Background()
	cfg := store.Config()

	if _, err := cfg.Get(ctx, "min_hours"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}

	if err := cfg.Set(ctx, "min_hours", "3"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if err := cfg.Set(ctx, "min_hours", "3.5"); err != nil {
		t.Fatalf("overwrite config: %v", err)
	}
	if err := cfg.Set(ctx, "month_days", "20"); err != nil {
		t.Fatalf("set config: %v", err)
	}

	value, err := cfg.Get(ctx, "min_hours")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if value != "3.5" {
		t.Errorf("expected 3.5, got %q", value)
	}

	all, err := cfg.List(ctx)
	if err != nil {
		t.Fatalf("list config: %v", err)
	}
	if len(all) != 2 || all["month_days"] != "20" {
		t.Errorf("unexpected config listing: %v", all)
	}
}
