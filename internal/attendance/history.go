package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/aiji/internal/metrics"
	"github.com/goodtune/aiji/internal/storage"
)

// Sessions lists userID's sessions dated in the month, oldest first. An
// open session is included with no end time.
func (r *Reporter) Sessions(ctx context.Context, userID int64, year, month int) ([]storage.Session, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid month: %d", month)
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	sessions, err := r.store.ListSessions(ctx, userID, first.Format(storage.DateLayout), last.Format(storage.DateLayout))
	if err != nil {
		metrics.StoreErrors.WithLabelValues("sessions").Inc()
		return nil, &StoreUnavailableError{Op: "sessions", Err: err}
	}
	return sessions, nil
}

// Session returns one of userID's sessions. A session owned by another
// host is reported as missing.
func (r *Reporter) Session(ctx context.Context, userID, id int64) (*storage.Session, error) {
	session, err := r.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("session %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("sessions").Inc()
		return nil, &StoreUnavailableError{Op: "sessions", Err: err}
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("session %d: %w", id, storage.ErrNotFound)
	}
	return session, nil
}
