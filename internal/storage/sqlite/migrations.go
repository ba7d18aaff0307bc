package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is one schema step. Versions must be strictly increasing.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, migration001Config},
	{2, migration002MonthlyRecords},
	{3, migration003Sessions},
}

// runMigrations applies all pending migrations, each in its own transaction.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

const migration001Config = `
CREATE TABLE IF NOT EXISTS config (
	id INTEGER PRIMARY KEY,
	key TEXT UNIQUE,
	value TEXT
);
`

const migration002MonthlyRecords = `
CREATE TABLE IF NOT EXISTS monthly_records (
	user_id INTEGER,
	year INTEGER,
	month INTEGER,
	valid_days INTEGER DEFAULT 0,
	total_hours REAL DEFAULT 0.0,
	daily_logs TEXT, -- JSON object of YYYY-MM-DD -> hours
	PRIMARY KEY (user_id, year, month)
);

CREATE INDEX IF NOT EXISTS idx_monthly_period ON monthly_records(year, month);
`

const migration003Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER,
	date TEXT,
	start_time TEXT,
	end_time TEXT,
	duration REAL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_date ON sessions(user_id, date);

-- At most one open session per user.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_user ON sessions(user_id) WHERE end_time IS NULL;
`
