// Package api exposes the attendance ledger over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/aiji/internal/attendance"
	"github.com/goodtune/aiji/internal/storage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// StatusResponse describes whether a host is live.
type StatusResponse struct {
	UserID       int64            `json:"user_id"`
	Live         bool             `json:"live"`
	Session      *storage.Session `json:"session,omitempty"`
	ElapsedHours float64          `json:"elapsed_hours,omitempty"`
}

// SessionsResponse is a host's session history for one month.
type SessionsResponse struct {
	UserID   int64             `json:"user_id"`
	Year     int               `json:"year"`
	Month    int               `json:"month"`
	Sessions []storage.Session `json:"sessions"`
}

// ConfigValue is the body of a config update.
type ConfigValue struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrAlreadyLive), errors.Is(err, attendance.ErrNotLive):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrClockSkew):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError writes err with the status it maps to. Store failures
// are reported without their cause.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusServiceUnavailable || status == http.StatusInternalServerError {
		message = "attendance store is unavailable, try again later"
	}
	writeError(w, status, message)
}
