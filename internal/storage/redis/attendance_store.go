package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/goodtune/aiji/internal/storage"
	"github.com/redis/go-redis/v9"
)

type attendanceStore struct {
	client *redis.Client
}

// Update runs fn under WATCH. Reads made through the tx watch the keys they
// touch and writes are queued until fn returns, then applied in one
// MULTI/EXEC. A watched key changing underneath yields storage.ErrConflict.
func (s *attendanceStore) Update(ctx context.Context, fn func(tx storage.AttendanceTx) error) error {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		tx := &attendanceTx{ctx: ctx, rtx: rtx}
		if err := fn(tx); err != nil {
			return err
		}
		if len(tx.ops) == 0 {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range tx.ops {
				op(pipe)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		return storage.ErrConflict
	}
	return err
}

// GetSession retrieves a session by ID
func (s *attendanceStore) GetSession(ctx context.Context, id int64) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return parseSession(data)
}

// GetOpenSession returns the user's open session
func (s *attendanceStore) GetOpenSession(ctx context.Context, userID int64) (*storage.Session, error) {
	id, err := s.client.Get(ctx, openSessionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

// ListOpenSessions returns every open session ordered by user
func (s *attendanceStore) ListOpenSessions(ctx context.Context) ([]storage.Session, error) {
	ids, err := s.client.SMembers(ctx, keyLiveSessions).Result()
	if err != nil {
		return nil, err
	}

	sessions, err := s.fetchSessions(ctx, ids)
	if err != nil {
		return nil, err
	}

	open := sessions[:0]
	for _, session := range sessions {
		if session.IsOpen() {
			open = append(open, session)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].UserID < open[j].UserID })
	return open, nil
}

// ListSessions returns the user's sessions with fromDate <= date <= toDate.
// Empty bounds are open.
func (s *attendanceStore) ListSessions(ctx context.Context, userID int64, fromDate, toDate string) ([]storage.Session, error) {
	// Members are scored by start time so the range is already ordered
	ids, err := s.client.ZRange(ctx, userSessionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	sessions, err := s.fetchSessions(ctx, ids)
	if err != nil {
		return nil, err
	}

	filtered := make([]storage.Session, 0, len(sessions))
	for _, session := range sessions {
		if session.Date < fromDate {
			continue
		}
		if toDate != "" && session.Date > toDate {
			continue
		}
		filtered = append(filtered, session)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].StartTime.Before(filtered[j].StartTime) })
	return filtered, nil
}

// GetMonthlyRecord retrieves one user's record for a month
func (s *attendanceStore) GetMonthlyRecord(ctx context.Context, userID int64, year, month int) (*storage.MonthlyRecord, error) {
	data, err := s.client.HGetAll(ctx, monthlyKey(userID, year, month)).Result()
	if err != nil {
		return nil, err
	}
	return parseMonthlyRecord(data)
}

// ListMonthlyRecords returns every record for a month ordered by user
func (s *attendanceStore) ListMonthlyRecords(ctx context.Context, year, month int) ([]storage.MonthlyRecord, error) {
	members, err := s.client.SMembers(ctx, monthlyIndexKey(year, month)).Result()
	if err != nil {
		return nil, err
	}

	if len(members) == 0 {
		return []storage.MonthlyRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(members))
	for _, member := range members {
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		cmds = append(cmds, pipe.HGetAll(ctx, monthlyKey(userID, year, month)))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	records := make([]storage.MonthlyRecord, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		record, err := parseMonthlyRecord(data)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records, nil
}

// fetchSessions loads session hashes in one pipeline, skipping missing ones.
func (s *attendanceStore) fetchSessions(ctx context.Context, ids []string) ([]storage.Session, error) {
	if len(ids) == 0 {
		return []storage.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		cmds = append(cmds, pipe.HGetAll(ctx, sessionKey(id)))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		session, err := parseSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, nil
}

type attendanceTx struct {
	ctx context.Context
	rtx *redis.Tx
	ops []func(redis.Pipeliner)
}

func (t *attendanceTx) queue(op func(redis.Pipeliner)) {
	t.ops = append(t.ops, op)
}

func (t *attendanceTx) GetOpenSession(userID int64) (*storage.Session, error) {
	id, err := t.openSessionID(userID)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, storage.ErrNotFound
	}
	return t.getSession(id)
}

func (t *attendanceTx) InsertSession(session *storage.Session) error {
	if session.IsOpen() {
		current, err := t.openSessionID(session.UserID)
		if err != nil {
			return err
		}
		if current != 0 {
			return storage.ErrConflict
		}
	}

	id, err := t.rtx.Incr(t.ctx, keySessionSeq).Result()
	if err != nil {
		return err
	}
	session.ID = id

	fields := sessionFields(*session)
	score := float64(session.StartTime.UnixMilli())
	member := strconv.FormatInt(id, 10)
	open := session.IsOpen()
	userID := session.UserID

	t.queue(func(pipe redis.Pipeliner) {
		pipe.HSet(t.ctx, sessionKey(id), fields)
		pipe.ZAdd(t.ctx, userSessionsKey(userID), redis.Z{Score: score, Member: member})
		if open {
			pipe.Set(t.ctx, openSessionKey(userID), id, 0)
			pipe.SAdd(t.ctx, keyLiveSessions, member)
		}
	})
	return nil
}

func (t *attendanceTx) UpdateSession(session storage.Session) error {
	key := sessionKey(session.ID)
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return err
	}
	owner, err := t.rtx.HGet(t.ctx, key, "user_id").Int64()
	if errors.Is(err, redis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != session.UserID {
		return storage.ErrNotFound
	}

	current, err := t.openSessionID(session.UserID)
	if err != nil {
		return err
	}

	fields := sessionFields(session)
	member := strconv.FormatInt(session.ID, 10)
	open := session.IsOpen()
	id := session.ID
	userID := session.UserID

	t.queue(func(pipe redis.Pipeliner) {
		pipe.HSet(t.ctx, key, fields)
		if open {
			pipe.Set(t.ctx, openSessionKey(userID), id, 0)
			pipe.SAdd(t.ctx, keyLiveSessions, member)
			return
		}
		pipe.SRem(t.ctx, keyLiveSessions, member)
		if current == id {
			pipe.Del(t.ctx, openSessionKey(userID))
		}
	})
	return nil
}

func (t *attendanceTx) GetMonthlyRecord(userID int64, year, month int) (*storage.MonthlyRecord, error) {
	key := monthlyKey(userID, year, month)
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return nil, err
	}
	data, err := t.rtx.HGetAll(t.ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return parseMonthlyRecord(data)
}

func (t *attendanceTx) PutMonthlyRecord(record storage.MonthlyRecord) error {
	fields, err := monthlyFields(record)
	if err != nil {
		return err
	}
	key := monthlyKey(record.UserID, record.Year, record.Month)
	index := monthlyIndexKey(record.Year, record.Month)
	member := strconv.FormatInt(record.UserID, 10)

	t.queue(func(pipe redis.Pipeliner) {
		pipe.HSet(t.ctx, key, fields)
		pipe.SAdd(t.ctx, index, member)
	})
	return nil
}

// openSessionID watches and reads the user's open-session pointer. Zero
// means the user is idle.
func (t *attendanceTx) openSessionID(userID int64) (int64, error) {
	key := openSessionKey(userID)
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return 0, err
	}
	id, err := t.rtx.Get(t.ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *attendanceTx) getSession(id int64) (*storage.Session, error) {
	key := sessionKey(id)
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return nil, err
	}
	data, err := t.rtx.HGetAll(t.ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return parseSession(data)
}
