package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoSettings is returned by LoadSettings when nothing has been saved yet.
var ErrNoSettings = errors.New("store: settings not found")

// Settings is the single persisted configuration row gating delivery.
type Settings struct {
	Enabled        bool
	Endpoint       string
	Token          string
	RefineEndpoint string
	LastCaptureAt  time.Time
	LastStatus     string
}

const settingsSchema = `
CREATE TABLE IF NOT EXISTS settings (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    enabled         INTEGER NOT NULL DEFAULT 0,
    endpoint        TEXT    NOT NULL DEFAULT '',
    token           TEXT    NOT NULL DEFAULT '',
    refine_endpoint TEXT    NOT NULL DEFAULT '',
    last_capture    TEXT    NOT NULL DEFAULT '',
    last_status     TEXT    NOT NULL DEFAULT ''
);`

// EnsureSettingsTable creates the settings table if missing.
func EnsureSettingsTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, settingsSchema); err != nil {
		return fmt.Errorf("store: ensure settings table: %w", err)
	}
	return nil
}

// SaveSettings upserts the single settings row, preserving the capture
// status columns.
func SaveSettings(ctx context.Context, db *sql.DB, s Settings) error {
	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO settings (id, enabled, endpoint, token, refine_endpoint)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    enabled = excluded.enabled,
    endpoint = excluded.endpoint,
    token = excluded.token,
    refine_endpoint = excluded.refine_endpoint`,
		enabled, s.Endpoint, s.Token, s.RefineEndpoint)
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}

// LoadSettings reads the settings row. Returns ErrNoSettings when the row
// has never been written.
func LoadSettings(ctx context.Context, db *sql.DB) (Settings, error) {
	var (
		s       Settings
		enabled int
		lastAt  string
	)
	err := db.QueryRowContext(ctx, `
SELECT enabled, endpoint, token, refine_endpoint, last_capture, last_status
FROM settings WHERE id = 1`).
		Scan(&enabled, &s.Endpoint, &s.Token, &s.RefineEndpoint, &lastAt, &s.LastStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, ErrNoSettings
	}
	if err != nil {
		return Settings{}, fmt.Errorf("store: load settings: %w", err)
	}
	s.Enabled = enabled != 0
	if lastAt != "" {
		if t, perr := time.Parse(time.RFC3339, lastAt); perr == nil {
			s.LastCaptureAt = t
		}
	}
	return s, nil
}

// RecordCapture stamps the time and status of the most recent delivery
// attempt ("ok", "failed", "dropped"). A missing settings row is created
// with defaults so the status is never lost.
func RecordCapture(ctx context.Context, db *sql.DB, at time.Time, status string) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO settings (id, last_capture, last_status)
VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    last_capture = excluded.last_capture,
    last_status = excluded.last_status`,
		at.UTC().Format(time.RFC3339), status)
	if err != nil {
		return fmt.Errorf("store: record capture: %w", err)
	}
	return nil
}
