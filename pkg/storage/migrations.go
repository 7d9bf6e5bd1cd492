package storage

import (
	"database/sql"
	"fmt"
)

// Timestamps are stored as unix milliseconds so that window and cooldown
// comparisons are plain integer comparisons. Prices are decimal strings.
var migrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS users (
		user_id        INTEGER PRIMARY KEY,
		action_count   INTEGER NOT NULL DEFAULT 0 CHECK(action_count >= 0),
		count_reset_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL,
		created_at     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id                  TEXT PRIMARY KEY,
		user_id             INTEGER NOT NULL,
		area                TEXT NOT NULL,
		check_in            TEXT NOT NULL,
		check_out           TEXT NOT NULL,
		max_price           TEXT NOT NULL,
		active              INTEGER NOT NULL DEFAULT 1,
		fail_streak         INTEGER NOT NULL DEFAULT 0,
		created_at          INTEGER NOT NULL,
		last_checked_at     INTEGER NOT NULL DEFAULT 0,
		deactivated_at      INTEGER NOT NULL DEFAULT 0,
		deactivation_reason TEXT NOT NULL DEFAULT '',
		CHECK(check_out > check_in)
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id, active);
	CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(active);

	CREATE TABLE IF NOT EXISTS price_history (
		id            TEXT PRIMARY KEY,
		alert_id      TEXT NOT NULL REFERENCES alerts(id),
		area          TEXT NOT NULL,
		hotel_name    TEXT NOT NULL DEFAULT '',
		check_in      TEXT NOT NULL,
		check_out     TEXT NOT NULL,
		nightly_price TEXT NOT NULL,
		currency      TEXT NOT NULL,
		source        TEXT NOT NULL CHECK(source IN ('live', 'mock')),
		retrieved_at  INTEGER NOT NULL,
		triggered     INTEGER NOT NULL DEFAULT 0,
		notified      INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_history_alert ON price_history(alert_id, retrieved_at);
	CREATE INDEX IF NOT EXISTS idx_history_stay ON price_history(area, check_in, check_out, retrieved_at);

	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,

	// Migration 2: Per-alert guest count, evaluator timestamp on history
	`ALTER TABLE alerts ADD COLUMN guests INTEGER NOT NULL DEFAULT 2;

	ALTER TABLE price_history ADD COLUMN recorded_at INTEGER NOT NULL DEFAULT 0;
	UPDATE price_history SET recorded_at = retrieved_at;

	CREATE INDEX IF NOT EXISTS idx_history_notified ON price_history(alert_id, notified, recorded_at);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
