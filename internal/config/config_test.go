package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected http port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("expected sqlite storage, got %s", cfg.Storage.Type)
	}
	if cfg.Storage.Path != filepath.Join("/data", "aiji_live.db") {
		t.Errorf("unexpected storage path %s", cfg.Storage.Path)
	}
	if cfg.Attendance.MinDailyHours != 2.5 || cfg.Attendance.MinValidDays != 22 || cfg.Attendance.MinMonthlyHours != 50 {
		t.Errorf("unexpected threshold defaults: %+v", cfg.Attendance)
	}
	if cfg.Location().String() != "Asia/Shanghai" {
		t.Errorf("expected Asia/Shanghai, got %s", cfg.Location())
	}
	if cfg.Policy.Source != "builtin" {
		t.Errorf("expected builtin policy, got %s", cfg.Policy.Source)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORT", "9000")
	t.Setenv("DATA_DIR", dir)
	t.Setenv("ADMIN_ID", "12345")
	t.Setenv("AIJI_ATTENDANCE_MIN_DAILY_HOURS", "3")
	t.Setenv("AIJI_STORAGE_TYPE", "bolt")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("expected PORT to override http port, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Path != filepath.Join(dir, "aiji_live.db") {
		t.Errorf("expected DATA_DIR to place the database, got %s", cfg.Storage.Path)
	}
	if cfg.Admin.AdminID != 12345 {
		t.Errorf("expected admin id 12345, got %d", cfg.Admin.AdminID)
	}
	if cfg.Attendance.MinDailyHours != 3 {
		t.Errorf("expected min daily hours 3, got %v", cfg.Attendance.MinDailyHours)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("expected bolt storage, got %s", cfg.Storage.Type)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	path := filepath.Join(t.TempDir(), "aiji.yaml")
	content := `
storage:
  type: redis
  redis:
    host: redis.internal
attendance:
  timezone: UTC
  min_valid_days: 20
rollover:
  run_time: "01:30"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Type != "redis" || cfg.Storage.Redis.Host != "redis.internal" || cfg.Storage.Redis.Port != 6379 {
		t.Errorf("unexpected redis config: %+v", cfg.Storage.Redis)
	}
	if cfg.Attendance.MinValidDays != 20 {
		t.Errorf("expected 20 valid days, got %d", cfg.Attendance.MinValidDays)
	}
	if cfg.Rollover.RunTime != "01:30" {
		t.Errorf("expected run time 01:30, got %s", cfg.Rollover.RunTime)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "70000"}},
		{"bad storage", map[string]string{"AIJI_STORAGE_TYPE": "mongo"}},
		{"bad zone", map[string]string{"AIJI_ATTENDANCE_TIMEZONE": "Mars/Olympus"}},
		{"bad policy", map[string]string{"AIJI_POLICY_SOURCE": "lua"}},
		{"bad run time", map[string]string{"AIJI_ROLLOVER_RUN_TIME": "25:00"}},
		{"negative threshold", map[string]string{"AIJI_ATTENDANCE_MIN_VALID_DAYS": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	hour, minute, err := ParseClock("00:05")
	if err != nil || hour != 0 || minute != 5 {
		t.Fatalf("expected 00:05, got %d:%d (%v)", hour, minute, err)
	}
	if _, _, err := ParseClock("noon"); err == nil {
		t.Fatal("expected error for malformed clock")
	}
}

func TestDefaultIgnoresEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg := Default()
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.HTTPPort)
	}

	keys := map[string]bool{}
	for _, k := range Keys() {
		keys[k] = true
	}
	for _, k := range []string{"server.http_port", "storage.redis.password", "attendance.min_daily_hours", "admin.token", "data_dir"} {
		if !keys[k] {
			t.Errorf("expected key %s", k)
		}
	}
}
