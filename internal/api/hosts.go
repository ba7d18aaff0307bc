package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/aiji/internal/attendance"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// monthLayout is the format of the month query parameter.
const monthLayout = "2006-01"

// HostsHandler handles the host commands and session history.
type HostsHandler struct {
	tracker  *attendance.Tracker
	reporter *attendance.Reporter
	clock    attendance.Clock
	logger   zerolog.Logger
}

// NewHostsHandler creates a new hosts handler.
func NewHostsHandler(tracker *attendance.Tracker, reporter *attendance.Reporter, clock attendance.Clock, logger zerolog.Logger) *HostsHandler {
	if clock == nil {
		clock = attendance.RealClock{}
	}
	return &HostsHandler{
		tracker:  tracker,
		reporter: reporter,
		clock:    clock,
		logger:   logger.With().Str("handler", "hosts").Logger(),
	}
}

// Live handles POST /api/hosts/{user}/live.
func (h *HostsHandler) Live(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}

	session, err := h.tracker.Open(r.Context(), userID, h.clock.Now())
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// End handles POST /api/hosts/{user}/end.
func (h *HostsHandler) End(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}

	session, err := h.tracker.Close(r.Context(), userID, h.clock.Now())
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Status handles GET /api/hosts/{user}/status.
func (h *HostsHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}

	session, err := h.tracker.Status(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusOf(userID, session, h.clock.Now()))
}

// Stats handles GET /api/hosts/{user}/stats. The month query parameter
// defaults to the current month.
func (h *HostsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}

	var (
		summary *attendance.Summary
		err     error
	)
	if raw := r.URL.Query().Get("month"); raw != "" {
		year, month, ok := monthFromQuery(w, raw)
		if !ok {
			return
		}
		summary, err = h.reporter.Summarize(r.Context(), userID, year, month)
	} else {
		summary, err = h.reporter.SummarizeCurrent(r.Context(), userID, h.clock.Now())
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Sessions handles GET /api/hosts/{user}/sessions. The month query
// parameter defaults to the current month.
func (h *HostsHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}

	local := h.clock.Now().In(h.tracker.Location())
	year, month := local.Year(), int(local.Month())
	if raw := r.URL.Query().Get("month"); raw != "" {
		if year, month, ok = monthFromQuery(w, raw); !ok {
			return
		}
	}

	sessions, err := h.reporter.Sessions(r.Context(), userID, year, month)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionsResponse{
		UserID:   userID,
		Year:     year,
		Month:    month,
		Sessions: sessions,
	})
}

// Session handles GET /api/hosts/{user}/sessions/{id}.
func (h *HostsHandler) Session(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromPath(w, r)
	if !ok {
		return
	}

	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid session id: %q", raw))
		return
	}

	session, err := h.reporter.Session(r.Context(), userID, id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// statusOf builds the status body. session is nil for an idle host.
func statusOf(userID int64, session *storage.Session, now time.Time) StatusResponse {
	resp := StatusResponse{UserID: userID}
	if session == nil {
		return resp
	}
	resp.Live = true
	resp.Session = session
	if elapsed := now.Sub(session.StartTime); elapsed > 0 {
		resp.ElapsedHours = elapsed.Hours()
	}
	return resp
}

func userFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["user"]
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user id: %q", raw))
		return 0, false
	}
	return userID, true
}

func monthFromQuery(w http.ResponseWriter, raw string) (int, int, bool) {
	month, err := time.Parse(monthLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("month must be YYYY-MM, got %q", raw))
		return 0, 0, false
	}
	return month.Year(), int(month.Month()), true
}
