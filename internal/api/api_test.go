package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/aiji/internal/attendance"
	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/goodtune/aiji/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

const testToken = "s3cret"

var shanghai = time.FixedZone("CST", 8*3600)

type testServer struct {
	handler http.Handler
	clock   *attendance.TestClock
	store   storage.Store
	reloads int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, Config{ListenAddr: "127.0.0.1:0", AdminToken: testToken})
}

func newTestServerWithConfig(t *testing.T, cfg Config) *testServer {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "aiji.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ts := &testServer{
		clock: &attendance.TestClock{CurrentTime: time.Date(2024, 3, 1, 20, 0, 0, 0, shanghai)},
		store: store,
	}

	evaluator := policy.Defaults()
	tracker := attendance.NewTracker(store.Attendance(), evaluator, shanghai, zerolog.Nop())
	reporter := attendance.NewReporter(store.Attendance(), evaluator, shanghai, attendance.ReporterConfig{}, zerolog.Nop())
	tracker.SetInvalidator(reporter)

	reload := func(ctx context.Context) error {
		ts.reloads++
		return nil
	}

	srv := NewServer(
		cfg,
		NewHostsHandler(tracker, reporter, ts.clock, zerolog.Nop()),
		NewConfigHandler(store.Config(), reload, zerolog.Nop()),
		zerolog.Nop(),
	)
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestLiveEndStats(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/hosts/42/live", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("live: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	opened := decode[storage.Session](t, rec)
	if opened.Date != "2024-03-01" || !opened.IsOpen() {
		t.Fatalf("unexpected session: %+v", opened)
	}

	ts.clock.Advance(3 * time.Hour)

	rec = ts.do(t, "POST", "/api/hosts/42/end", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	closed := decode[storage.Session](t, rec)
	if closed.Duration == nil || *closed.Duration != 3 {
		t.Fatalf("expected 3 hour duration, got %+v", closed)
	}

	rec = ts.do(t, "GET", "/api/hosts/42/stats?month=2024-03", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	summary := decode[attendance.Summary](t, rec)
	if summary.ValidDays != 1 || summary.TotalHours != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// Without a month the clock's month is used
	rec = ts.do(t, "GET", "/api/hosts/42/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}
	current := decode[attendance.Summary](t, rec)
	if current.Year != 2024 || current.Month != 3 || current.TotalHours != 3 {
		t.Fatalf("unexpected current summary: %+v", current)
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, ts *testServer)
		method string
		path   string
		want   int
	}{
		{
			name:   "end while idle",
			method: "POST",
			path:   "/api/hosts/42/end",
			want:   http.StatusConflict,
		},
		{
			name: "live twice",
			setup: func(t *testing.T, ts *testServer) {
				ts.do(t, "POST", "/api/hosts/42/live", "", nil)
			},
			method: "POST",
			path:   "/api/hosts/42/live",
			want:   http.StatusConflict,
		},
		{
			name: "close before start",
			setup: func(t *testing.T, ts *testServer) {
				ts.do(t, "POST", "/api/hosts/42/live", "", nil)
				ts.clock.Advance(-time.Minute)
			},
			method: "POST",
			path:   "/api/hosts/42/end",
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "bad user id",
			method: "POST",
			path:   "/api/hosts/abc/live",
			want:   http.StatusBadRequest,
		},
		{
			name:   "non-positive user id",
			method: "GET",
			path:   "/api/hosts/0/status",
			want:   http.StatusBadRequest,
		},
		{
			name:   "bad month",
			method: "GET",
			path:   "/api/hosts/42/stats?month=March",
			want:   http.StatusBadRequest,
		},
		{
			name:   "bad history month",
			method: "GET",
			path:   "/api/hosts/42/sessions?month=2024-3",
			want:   http.StatusBadRequest,
		},
		{
			name:   "bad session id",
			method: "GET",
			path:   "/api/hosts/42/sessions/first",
			want:   http.StatusBadRequest,
		},
		{
			name:   "missing session",
			method: "GET",
			path:   "/api/hosts/42/sessions/99",
			want:   http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			if tt.setup != nil {
				tt.setup(t, ts)
			}
			rec := ts.do(t, tt.method, tt.path, "", nil)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/hosts/42/status", "", nil)
	idle := decode[StatusResponse](t, rec)
	if idle.Live || idle.Session != nil {
		t.Fatalf("expected idle status, got %+v", idle)
	}

	ts.do(t, "POST", "/api/hosts/42/live", "", nil)
	ts.clock.Advance(90 * time.Minute)

	rec = ts.do(t, "GET", "/api/hosts/42/status", "", nil)
	live := decode[StatusResponse](t, rec)
	if !live.Live || live.Session == nil || live.ElapsedHours != 1.5 {
		t.Fatalf("expected live for 1.5 hours, got %+v", live)
	}
}

func TestStatusForErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&attendance.AlreadyLiveError{UserID: 1}, http.StatusConflict},
		{&attendance.NotLiveError{UserID: 1}, http.StatusConflict},
		{&attendance.ClockSkewError{UserID: 1}, http.StatusUnprocessableEntity},
		{&attendance.StoreUnavailableError{Op: "live", Err: errors.New("disk full")}, http.StatusServiceUnavailable},
		{fmt.Errorf("session 9: %w", storage.ErrNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestConfigRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testToken, http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := ts.do(t, "GET", "/api/config", "", headers)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestConfigSet(t *testing.T) {
	ts := newTestServer(t)
	auth := map[string]string{"Authorization": "Bearer " + testToken}

	rec := ts.do(t, "PUT", "/api/config/min_hours", `{"value":"abc"}`, auth)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed hours, got %d", rec.Code)
	}
	if ts.reloads != 0 {
		t.Fatalf("rejected value must not trigger a reload")
	}

	for _, value := range []string{"NaN", "Inf", "-Inf"} {
		rec = ts.do(t, "PUT", "/api/config/min_hours", `{"value":"`+value+`"}`, auth)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", value, rec.Code)
		}
	}
	if _, err := ts.store.Config().Get(context.Background(), "min_hours"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejected values must not be persisted, got %v", err)
	}

	rec = ts.do(t, "PUT", "/api/config/min_hours", `{"value":"3"}`, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ts.reloads != 1 {
		t.Fatalf("expected one reload, got %d", ts.reloads)
	}

	value, err := ts.store.Config().Get(context.Background(), "min_hours")
	if err != nil || value != "3" {
		t.Fatalf("expected persisted value 3, got %q (%v)", value, err)
	}

	rec = ts.do(t, "GET", "/api/config/min_hours", "", auth)
	got := decode[ConfigValue](t, rec)
	if got.Value != "3" {
		t.Fatalf("expected 3, got %+v", got)
	}

	rec = ts.do(t, "GET", "/api/config/unknown", "", auth)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConfigDisabledWithoutToken(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "aiji.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srv := NewServer(Config{}, NewHostsHandler(nil, nil, nil, zerolog.Nop()), NewConfigHandler(store.Config(), nil, zerolog.Nop()), zerolog.Nop())

	req := httptest.NewRequest("GET", "/api/config", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSessionHistory(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, "POST", "/api/hosts/42/live", "", nil)
	ts.clock.Advance(3 * time.Hour)
	ts.do(t, "POST", "/api/hosts/42/end", "", nil)
	ts.clock.Advance(time.Hour)
	rec := ts.do(t, "POST", "/api/hosts/42/live", "", nil)
	open := decode[storage.Session](t, rec)

	rec = ts.do(t, "GET", "/api/hosts/42/sessions?month=2024-03", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	history := decode[SessionsResponse](t, rec)
	if history.UserID != 42 || history.Year != 2024 || history.Month != 3 || len(history.Sessions) != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history.Sessions[0].Duration == nil || *history.Sessions[0].Duration != 3 || !history.Sessions[1].IsOpen() {
		t.Fatalf("expected a closed 3 hour session then an open one, got %+v", history.Sessions)
	}

	// Without a month the clock's month is used
	rec = ts.do(t, "GET", "/api/hosts/42/sessions", "", nil)
	if current := decode[SessionsResponse](t, rec); current.Month != 3 || len(current.Sessions) != 2 {
		t.Fatalf("unexpected current history: %+v", current)
	}

	rec = ts.do(t, "GET", "/api/hosts/42/sessions?month=2024-02", "", nil)
	if february := decode[SessionsResponse](t, rec); len(february.Sessions) != 0 {
		t.Fatalf("expected no February sessions, got %+v", february.Sessions)
	}

	rec = ts.do(t, "GET", fmt.Sprintf("/api/hosts/42/sessions/%d", open.ID), "", nil)
	if got := decode[storage.Session](t, rec); got.ID != open.ID || !got.IsOpen() {
		t.Fatalf("unexpected session: %+v", got)
	}

	rec = ts.do(t, "GET", fmt.Sprintf("/api/hosts/7/sessions/%d", open.ID), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected another host's session to be 404, got %d", rec.Code)
	}
}

func TestHostRoutesRequireTokenWhenSet(t *testing.T) {
	ts := newTestServerWithConfig(t, Config{AdminToken: testToken, HostToken: "host-key"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"admin token", "Bearer " + testToken, http.StatusUnauthorized},
		{"valid", "Bearer host-key", http.StatusOK},
		{"scheme is case-insensitive", "bearer host-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := ts.do(t, "GET", "/api/hosts/42/status", "", headers)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	rec := ts.do(t, "POST", "/api/hosts/42/live", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthenticated live to be refused, got %d", rec.Code)
	}
	if session, err := ts.store.Attendance().GetOpenSession(context.Background(), 42); err == nil {
		t.Fatalf("refused request must not open a session, got %+v", session)
	}
}
