// Package attendance is the livestream attendance ledger: it opens and
// closes per-user sessions, folds closed sessions into monthly records and
// reports on them.
package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/aiji/internal/metrics"
	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/rs/zerolog"
)

// Invalidator is notified after a session close commits.
type Invalidator interface {
	Invalidate(userID int64, year, month int)
}

// Tracker owns the open/close lifecycle of at most one session per user.
type Tracker struct {
	store       storage.AttendanceStore
	evaluator   policy.Evaluator
	location    *time.Location
	locks       *userLocks
	invalidator Invalidator
	logger      zerolog.Logger
}

// NewTracker creates a tracker. Session dates are taken in loc.
func NewTracker(store storage.AttendanceStore, evaluator policy.Evaluator, loc *time.Location, logger zerolog.Logger) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		store:     store,
		evaluator: evaluator,
		location:  loc,
		locks:     newUserLocks(),
		logger:    logger.With().Str("component", "tracker").Logger(),
	}
}

// SetInvalidator registers the receiver of close notifications.
func (t *Tracker) SetInvalidator(inv Invalidator) {
	t.invalidator = inv
}

// Location returns the zone used for session dates.
func (t *Tracker) Location() *time.Location {
	return t.location
}

// Open starts a session for userID at now.
func (t *Tracker) Open(ctx context.Context, userID int64, now time.Time) (*storage.Session, error) {
	unlock := t.locks.lock(userID)
	defer unlock()

	session := storage.Session{
		UserID:    userID,
		Date:      now.In(t.location).Format(storage.DateLayout),
		StartTime: now,
	}

	err := t.store.Update(ctx, func(tx storage.AttendanceTx) error {
		existing, err := tx.GetOpenSession(userID)
		if err == nil {
			return &AlreadyLiveError{UserID: userID, Since: existing.StartTime}
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return tx.InsertSession(&session)
	})
	if errors.Is(err, storage.ErrConflict) {
		// Another writer opened a session between our read and commit
		err = &AlreadyLiveError{UserID: userID}
	}
	if err != nil {
		return nil, t.fail("live", userID, err)
	}

	metrics.SessionsOpened.Inc()
	metrics.LiveHosts.Inc()

	t.logger.Info().
		Int64("user_id", userID).
		Int64("session_id", session.ID).
		Str("date", session.Date).
		Time("start", session.StartTime).
		Msg("Session opened")

	return &session, nil
}

// Close ends userID's open session at now and applies it to the monthly
// record in the same transaction.
func (t *Tracker) Close(ctx context.Context, userID int64, now time.Time) (*storage.Session, error) {
	unlock := t.locks.lock(userID)
	defer unlock()

	var closed storage.Session
	var year, month int

	err := t.store.Update(ctx, func(tx storage.AttendanceTx) error {
		session, err := tx.GetOpenSession(userID)
		if errors.Is(err, storage.ErrNotFound) {
			return &NotLiveError{UserID: userID}
		}
		if err != nil {
			return err
		}

		if now.Before(session.StartTime) {
			return &ClockSkewError{UserID: userID, Start: session.StartTime, End: now}
		}

		end := now
		hours := now.Sub(session.StartTime).Hours()
		session.EndTime = &end
		session.Duration = &hours

		if err := tx.UpdateSession(*session); err != nil {
			return err
		}

		year, month, err = storage.MonthOf(session.Date)
		if err != nil {
			return err
		}

		record, err := tx.GetMonthlyRecord(userID, year, month)
		if errors.Is(err, storage.ErrNotFound) {
			record = storage.NewMonthlyRecord(userID, year, month)
		} else if err != nil {
			return err
		}

		Apply(record, *session, t.evaluator)

		if err := tx.PutMonthlyRecord(*record); err != nil {
			return err
		}

		closed = *session
		return nil
	})
	if err != nil {
		return nil, t.fail("end", userID, err)
	}

	if t.invalidator != nil {
		t.invalidator.Invalidate(userID, year, month)
	}

	metrics.SessionsClosed.Inc()
	metrics.SessionHours.Observe(*closed.Duration)
	metrics.LiveHosts.Dec()

	t.logger.Info().
		Int64("user_id", userID).
		Int64("session_id", closed.ID).
		Str("date", closed.Date).
		Float64("hours", *closed.Duration).
		Msg("Session closed")

	return &closed, nil
}

// Status returns userID's open session, or nil when idle.
func (t *Tracker) Status(ctx context.Context, userID int64) (*storage.Session, error) {
	session, err := t.store.GetOpenSession(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, t.fail("status", userID, err)
	}
	return session, nil
}

// fail classifies err. Ledger rejections pass through; anything else is
// wrapped as StoreUnavailableError.
func (t *Tracker) fail(command string, userID int64, err error) error {
	var reason string
	switch {
	case errors.Is(err, ErrAlreadyLive):
		reason = "already_live"
	case errors.Is(err, ErrNotLive):
		reason = "not_live"
	case errors.Is(err, ErrClockSkew):
		reason = "clock_skew"
	}

	if reason != "" {
		metrics.CommandsRejected.WithLabelValues(command, reason).Inc()
		t.logger.Debug().
			Err(err).
			Str("command", command).
			Int64("user_id", userID).
			Msg("Command rejected")
		return err
	}

	metrics.StoreErrors.WithLabelValues(command).Inc()
	t.logger.Error().
		Err(err).
		Str("command", command).
		Int64("user_id", userID).
		Msg("Store operation failed")
	return &StoreUnavailableError{Op: command, Err: err}
}
