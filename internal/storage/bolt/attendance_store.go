package bolt

import (
	"bytes"
	"context"
	"sort"

	"github.com/goodtune/aiji/internal/storage"
	"go.etcd.io/bbolt"
)

type attendanceStore struct {
	db *bbolt.DB
}

func (s *attendanceStore) Update(ctx context.Context, fn func(tx storage.AttendanceTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fn(&attendanceTx{ctx: ctx, tx: tx})
	})
}

func (s *attendanceStore) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fn(tx)
	})
}

func (s *attendanceStore) GetSession(ctx context.Context, id int64) (*storage.Session, error) {
	var session *storage.Session
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		session, err = getValue[storage.Session](tx, bucketSessions, sessionKey(id))
		return err
	})
	return session, err
}

func (s *attendanceStore) GetOpenSession(ctx context.Context, userID int64) (*storage.Session, error) {
	var session *storage.Session
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		session, err = getOpenSession(tx, userID)
		return err
	})
	return session, err
}

func (s *attendanceStore) ListOpenSessions(ctx context.Context) ([]storage.Session, error) {
	sessions := make([]storage.Session, 0)
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		open, err := bucket(tx, bucketOpenSessions)
		if err != nil {
			return err
		}
		return open.ForEach(func(_, id []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			session, err := getValue[storage.Session](tx, bucketSessions, id)
			if err != nil {
				return err
			}
			sessions = append(sessions, *session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UserID < sessions[j].UserID })
	return sessions, nil
}

func (s *attendanceStore) ListSessions(ctx context.Context, userID int64, fromDate, toDate string) ([]storage.Session, error) {
	sessions := make([]storage.Session, 0)
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketSessions)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.Session
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if session.UserID != userID || session.Date < fromDate {
				return nil
			}
			if toDate != "" && session.Date > toDate {
				return nil
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].StartTime.Before(sessions[j].StartTime) })
	return sessions, nil
}

func (s *attendanceStore) GetMonthlyRecord(ctx context.Context, userID int64, year, month int) (*storage.MonthlyRecord, error) {
	var record *storage.MonthlyRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		record, err = getMonthlyRecord(tx, userID, year, month)
		return err
	})
	return record, err
}

func (s *attendanceStore) ListMonthlyRecords(ctx context.Context, year, month int) ([]storage.MonthlyRecord, error) {
	records := make([]storage.MonthlyRecord, 0)
	prefix := []byte(monthPrefix(year, month))
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketMonthlyRecords)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var record storage.MonthlyRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			if record.DailyLogs == nil {
				record.DailyLogs = make(map[string]float64)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records, nil
}

type attendanceTx struct {
	ctx context.Context
	tx  *bbolt.Tx
}

func (t *attendanceTx) GetOpenSession(userID int64) (*storage.Session, error) {
	if t.ctx.Err() != nil {
		return nil, t.ctx.Err()
	}
	return getOpenSession(t.tx, userID)
}

func (t *attendanceTx) InsertSession(session *storage.Session) error {
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}
	open, err := bucket(t.tx, bucketOpenSessions)
	if err != nil {
		return err
	}
	if session.IsOpen() && open.Get(userKey(session.UserID)) != nil {
		return storage.ErrConflict
	}

	sessions, err := bucket(t.tx, bucketSessions)
	if err != nil {
		return err
	}
	seq, err := sessions.NextSequence()
	if err != nil {
		return err
	}
	session.ID = int64(seq)

	if err := putValue(t.tx, bucketSessions, sessionKey(session.ID), session); err != nil {
		return err
	}
	if session.IsOpen() {
		return open.Put(userKey(session.UserID), sessionKey(session.ID))
	}
	return nil
}

func (t *attendanceTx) UpdateSession(session storage.Session) error {
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}
	existing, err := getValue[storage.Session](t.tx, bucketSessions, sessionKey(session.ID))
	if err != nil {
		return err
	}
	if existing.UserID != session.UserID {
		return storage.ErrNotFound
	}

	if err := putValue(t.tx, bucketSessions, sessionKey(session.ID), session); err != nil {
		return err
	}

	open, err := bucket(t.tx, bucketOpenSessions)
	if err != nil {
		return err
	}
	if session.IsOpen() {
		return open.Put(userKey(session.UserID), sessionKey(session.ID))
	}
	if current := open.Get(userKey(session.UserID)); bytes.Equal(current, sessionKey(session.ID)) {
		return open.Delete(userKey(session.UserID))
	}
	return nil
}

func (t *attendanceTx) GetMonthlyRecord(userID int64, year, month int) (*storage.MonthlyRecord, error) {
	if t.ctx.Err() != nil {
		return nil, t.ctx.Err()
	}
	return getMonthlyRecord(t.tx, userID, year, month)
}

func (t *attendanceTx) PutMonthlyRecord(record storage.MonthlyRecord) error {
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}
	if record.DailyLogs == nil {
		record.DailyLogs = make(map[string]float64)
	}
	return putValue(t.tx, bucketMonthlyRecords, monthlyKey(record.UserID, record.Year, record.Month), record)
}

func getOpenSession(tx *bbolt.Tx, userID int64) (*storage.Session, error) {
	open, err := bucket(tx, bucketOpenSessions)
	if err != nil {
		return nil, err
	}
	id := open.Get(userKey(userID))
	if id == nil {
		return nil, storage.ErrNotFound
	}
	return getValue[storage.Session](tx, bucketSessions, id)
}

func getMonthlyRecord(tx *bbolt.Tx, userID int64, year, month int) (*storage.MonthlyRecord, error) {
	record, err := getValue[storage.MonthlyRecord](tx, bucketMonthlyRecords, monthlyKey(userID, year, month))
	if err != nil {
		return nil, err
	}
	if record.DailyLogs == nil {
		record.DailyLogs = make(map[string]float64)
	}
	return record, nil
}
