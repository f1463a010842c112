package storage

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// InsertSession writes a new immutable session row and returns its
// generated id.
func InsertSession(db *sql.DB, record NewSession) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
INSERT INTO charging_sessions (
	id, started_at, finished_at, duration_ms, energy_kwh, source, status,
	started_reason, finished_reason, poll_interval_ms, debounce_samples,
	error_count_during_session, station_id, created_at,
	raw_report2_start, raw_report3_start, raw_report2_end, raw_report3_end
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.StartedAt, record.FinishedAt, record.DurationMs, record.EnergyKWh,
		record.Source, record.Status, record.StartedReason, record.FinishedReason,
		record.PollIntervalMs, record.DebounceSamples, record.ErrorCountDuringSession,
		record.StationID, record.CreatedAt, record.RawReport2Start, record.RawReport3Start,
		record.RawReport2End, record.RawReport3End,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// InsertLogEvent writes a new append-only log event row and returns its
// generated id.
func InsertLogEvent(db *sql.DB, record NewLogEvent) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
INSERT INTO log_events (id, created_at, level, code, message, source, station_id, details_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.CreatedAt, record.Level, record.Code, record.Message, record.Source,
		record.StationID, record.DetailsJSON,
	)
	if err != nil {
		return "", fmt.Errorf("insert log event: %w", err)
	}
	return id, nil
}

// LinkSessionLogEvents links sessionID to each of logEventIDs. Uses
// INSERT OR IGNORE so repeated calls are idempotent.
func LinkSessionLogEvents(db *sql.DB, sessionID string, logEventIDs []string) error {
	if len(logEventIDs) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin link transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO charging_session_log_events (session_id, log_event_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare link statement: %w", err)
	}
	defer stmt.Close()

	for _, logEventID := range logEventIDs {
		if _, err := stmt.Exec(sessionID, logEventID); err != nil {
			return fmt.Errorf("link session %s to log event %s: %w", sessionID, logEventID, err)
		}
	}

	return tx.Commit()
}
