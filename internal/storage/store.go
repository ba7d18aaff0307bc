package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned when a write would violate a uniqueness rule,
// such as a second open session for the same user, or when a concurrent
// writer invalidated the transaction.
var ErrConflict = errors.New("storage: write conflict")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Ping(ctx context.Context) error
	Attendance() AttendanceStore
	Config() ConfigStore
}

// AttendanceStore manages sessions and monthly records.
type AttendanceStore interface {
	// Update runs fn inside a single read-write transaction. Writes made
	// through tx become durable only if fn returns nil; any error or panic
	// discards all of them.
	Update(ctx context.Context, fn func(tx AttendanceTx) error) error

	GetSession(ctx context.Context, id int64) (*Session, error)
	GetOpenSession(ctx context.Context, userID int64) (*Session, error)
	ListOpenSessions(ctx context.Context) ([]Session, error)
	ListSessions(ctx context.Context, userID int64, fromDate, toDate string) ([]Session, error)
	GetMonthlyRecord(ctx context.Context, userID int64, year, month int) (*MonthlyRecord, error)
	ListMonthlyRecords(ctx context.Context, year, month int) ([]MonthlyRecord, error)
}

// AttendanceTx is the view of the store available inside Update. The
// transaction is bound to the context passed to Update.
type AttendanceTx interface {
	GetOpenSession(userID int64) (*Session, error)
	// InsertSession stores a new open session and assigns its ID.
	// Returns ErrConflict if the user already has an open session.
	InsertSession(session *Session) error
	UpdateSession(session Session) error
	GetMonthlyRecord(userID int64, year, month int) (*MonthlyRecord, error)
	PutMonthlyRecord(record MonthlyRecord) error
}

// ConfigStore manages admin-set key/value parameters.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context) (map[string]string, error)
}
