package attendance

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyLive is returned when opening a session for a user who is
	// already streaming.
	ErrAlreadyLive = errors.New("already live")

	// ErrNotLive is returned when closing a session for an idle user.
	ErrNotLive = errors.New("not live")

	// ErrClockSkew is returned when the close time precedes the start.
	ErrClockSkew = errors.New("close time before session start")

	// ErrStoreUnavailable wraps any persistence failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// AlreadyLiveError reports the open session blocking a new one. Since is
// zero when the conflict was detected by the store rather than a read.
type AlreadyLiveError struct {
	UserID int64
	Since  time.Time
}

func (e *AlreadyLiveError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("user %d is already live", e.UserID)
	}
	return fmt.Sprintf("user %d is already live since %s", e.UserID, e.Since.Format(time.RFC3339))
}

func (e *AlreadyLiveError) Is(target error) bool { return target == ErrAlreadyLive }

// NotLiveError reports a close with no open session.
type NotLiveError struct {
	UserID int64
}

func (e *NotLiveError) Error() string {
	return fmt.Sprintf("user %d is not live", e.UserID)
}

func (e *NotLiveError) Is(target error) bool { return target == ErrNotLive }

// ClockSkewError reports a close earlier than the session start. The
// session is left open.
type ClockSkewError struct {
	UserID int64
	Start  time.Time
	End    time.Time
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("user %d: close at %s is before start at %s",
		e.UserID, e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

func (e *ClockSkewError) Is(target error) bool { return target == ErrClockSkew }

// StoreUnavailableError wraps the underlying persistence error.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *StoreUnavailableError) Unwrap() error { return e.Err }
