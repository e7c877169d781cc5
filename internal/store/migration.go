package store

import (
	"database/sql"
	"fmt"
)

// Migrate creates the notifier settings and delivery history tables.
func Migrate(db *sql.DB) error {
	statements := []struct {
		label string
		sql   string
	}{
		{"notifier_settings", `
			CREATE TABLE IF NOT EXISTS notifier_settings (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				name         TEXT    NOT NULL UNIQUE,
				sink_type    TEXT    NOT NULL,
				config_json  TEXT    NOT NULL DEFAULT '{}',
				min_severity TEXT    NOT NULL DEFAULT 'info',
				enabled      INTEGER DEFAULT 1,
				created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
			);`},

		{"delivery_history", `
			CREATE TABLE IF NOT EXISTS delivery_history (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				notifier      TEXT    NOT NULL,
				event_id      TEXT    NOT NULL,
				category      TEXT    NOT NULL,
				severity      TEXT    NOT NULL,
				message       TEXT    NOT NULL,
				delivered     INTEGER NOT NULL,
				error_message TEXT,
				created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
			);`},
		{"delivery_history indexes", `
			CREATE INDEX IF NOT EXISTS idx_delivery_notifier ON delivery_history(notifier);
			CREATE INDEX IF NOT EXISTS idx_delivery_created ON delivery_history(created_at);`},
	}

	for _, s := range statements {
		if _, err := db.Exec(s.sql); err != nil {
			return fmt.Errorf("store migration failed at [%s]: %w", s.label, err)
		}
	}
	return nil
}
