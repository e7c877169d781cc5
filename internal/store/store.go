// Package store persists sink configuration and the delivery audit trail
// in SQLite. Event history itself stays in the bus's in-memory ring.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

const timeFormat = "2006-01-02 15:04:05"

// ErrNotFound is returned when an operation targets a missing row.
var ErrNotFound = errors.New("not found")

// Open opens (creating if needed) the database and runs migrations.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NotifierSetting is one configured sink destination.
type NotifierSetting struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	SinkType    string    `json:"sink_type"`
	ConfigJSON  string    `json:"config_json"`
	MinSeverity string    `json:"min_severity"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeliveryRecord is one per-notifier delivery outcome.
type DeliveryRecord struct {
	ID           int64     `json:"id"`
	Notifier     string    `json:"notifier"`
	EventID      string    `json:"event_id"`
	Category     string    `json:"category"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	Delivered    bool      `json:"delivered"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ── NotifierSetting CRUD ────────────────────────────────────────────────

// CreateNotifier inserts a new sink destination.
func CreateNotifier(db *sql.DB, ns *NotifierSetting) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO notifier_settings (name, sink_type, config_json, min_severity, enabled)
		VALUES (?, ?, ?, ?, ?)`,
		ns.Name, ns.SinkType, ns.ConfigJSON, ns.MinSeverity, boolInt(ns.Enabled))
	if err != nil {
		return 0, fmt.Errorf("create notifier setting: %w", err)
	}
	return res.LastInsertId()
}

// GetNotifier retrieves a sink destination by ID, or nil if absent.
func GetNotifier(db *sql.DB, id int64) (*NotifierSetting, error) {
	row := db.QueryRow(`
		SELECT id, name, sink_type, config_json, min_severity, enabled,
		       created_at, updated_at
		FROM notifier_settings WHERE id = ?`, id)

	var ns NotifierSetting
	var enabled int
	var createdAt, updatedAt string
	err := row.Scan(&ns.ID, &ns.Name, &ns.SinkType, &ns.ConfigJSON,
		&ns.MinSeverity, &enabled, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan notifier setting: %w", err)
	}
	ns.Enabled = enabled == 1
	ns.CreatedAt = parseTime(createdAt)
	ns.UpdatedAt = parseTime(updatedAt)
	return &ns, nil
}

// ListNotifiers returns all configured sink destinations.
func ListNotifiers(db *sql.DB) ([]NotifierSetting, error) {
	return queryNotifiers(db, `
		SELECT id, name, sink_type, config_json, min_severity, enabled,
		       created_at, updated_at
		FROM notifier_settings ORDER BY name`)
}

// ListEnabledNotifiers returns only the enabled destinations.
func ListEnabledNotifiers(db *sql.DB) ([]NotifierSetting, error) {
	return queryNotifiers(db, `
		SELECT id, name, sink_type, config_json, min_severity, enabled,
		       created_at, updated_at
		FROM notifier_settings WHERE enabled = 1 ORDER BY name`)
}

func queryNotifiers(db *sql.DB, query string) ([]NotifierSetting, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list notifier settings: %w", err)
	}
	defer rows.Close()

	var out []NotifierSetting
	for rows.Next() {
		var ns NotifierSetting
		var enabled int
		var createdAt, updatedAt string
		if err := rows.Scan(&ns.ID, &ns.Name, &ns.SinkType, &ns.ConfigJSON,
			&ns.MinSeverity, &enabled, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan notifier setting row: %w", err)
		}
		ns.Enabled = enabled == 1
		ns.CreatedAt = parseTime(createdAt)
		ns.UpdatedAt = parseTime(updatedAt)
		out = append(out, ns)
	}
	return out, rows.Err()
}

// UpdateNotifier updates a sink destination's configuration.
func UpdateNotifier(db *sql.DB, ns *NotifierSetting) error {
	res, err := db.Exec(`
		UPDATE notifier_settings SET
			name = ?, sink_type = ?, config_json = ?, min_severity = ?,
			enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		ns.Name, ns.SinkType, ns.ConfigJSON, ns.MinSeverity,
		boolInt(ns.Enabled), ns.ID)
	if err != nil {
		return fmt.Errorf("update notifier setting: %w", err)
	}
	return expectOneRow(res, "update notifier setting")
}

// UpsertNotifier inserts a sink destination or replaces the existing
// one with the same name.
func UpsertNotifier(db *sql.DB, ns *NotifierSetting) error {
	_, err := db.Exec(`
		INSERT INTO notifier_settings (name, sink_type, config_json, min_severity, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			sink_type = excluded.sink_type,
			config_json = excluded.config_json,
			min_severity = excluded.min_severity,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP`,
		ns.Name, ns.SinkType, ns.ConfigJSON, ns.MinSeverity, boolInt(ns.Enabled))
	if err != nil {
		return fmt.Errorf("upsert notifier setting: %w", err)
	}
	return nil
}

// DeleteNotifier removes a sink destination.
func DeleteNotifier(db *sql.DB, id int64) error {
	res, err := db.Exec(`DELETE FROM notifier_settings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notifier setting: %w", err)
	}
	return expectOneRow(res, "delete notifier setting")
}

// DeleteNotifierByName removes a sink destination by its unique name.
func DeleteNotifierByName(db *sql.DB, name string) error {
	res, err := db.Exec(`DELETE FROM notifier_settings WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete notifier setting: %w", err)
	}
	return expectOneRow(res, "delete notifier setting")
}

// ── Delivery history ────────────────────────────────────────────────────

// RecordDelivery inserts one delivery outcome.
func RecordDelivery(db *sql.DB, rec *DeliveryRecord) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO delivery_history
			(notifier, event_id, category, severity, message, delivered, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Notifier, rec.EventID, rec.Category, rec.Severity,
		rec.Message, boolInt(rec.Delivered), rec.ErrorMessage)
	if err != nil {
		return 0, fmt.Errorf("record delivery: %w", err)
	}
	return res.LastInsertId()
}

// RecentDeliveries returns the latest N delivery records, newest first.
func RecentDeliveries(db *sql.DB, limit int) ([]DeliveryRecord, error) {
	rows, err := db.Query(`
		SELECT id, notifier, event_id, category, severity, message,
		       delivered, COALESCE(error_message,''), created_at
		FROM delivery_history
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		var delivered int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Notifier, &r.EventID, &r.Category,
			&r.Severity, &r.Message, &delivered, &r.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		r.Delivered = delivered == 1
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneDeliveries deletes records older than the retention window.
func PruneDeliveries(db *sql.DB, keep time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-keep).Format(timeFormat)
	res, err := db.Exec(`DELETE FROM delivery_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}

// ── helpers ─────────────────────────────────────────────────────────────

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
