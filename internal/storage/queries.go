package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

const sessionColumns = `
	id, started_at, finished_at, duration_ms, energy_kwh, source, status,
	started_reason, finished_reason, poll_interval_ms, debounce_samples,
	error_count_during_session, station_id, created_at,
	raw_report2_start, raw_report3_start, raw_report2_end, raw_report3_end`

func scanSession(row interface{ Scan(dest ...any) error }) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID, &s.StartedAt, &s.FinishedAt, &s.DurationMs, &s.EnergyKWh, &s.Source, &s.Status,
		&s.StartedReason, &s.FinishedReason, &s.PollIntervalMs, &s.DebounceSamples,
		&s.ErrorCountDuringSession, &s.StationID, &s.CreatedAt,
		&s.RawReport2Start, &s.RawReport3Start, &s.RawReport2End, &s.RawReport3End,
	)
	return s, err
}

// GetLatestSession returns the most recently created session, or nil if
// there are none yet.
func GetLatestSession(db *sql.DB) (*Session, error) {
	row := db.QueryRow(`SELECT ` + sessionColumns + ` FROM charging_sessions ORDER BY created_at DESC, id DESC LIMIT 1`)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest session: %w", err)
	}
	return &session, nil
}

// GetLatestSessionSince returns the most recent session with
// created_at >= sinceInclusive, or nil if none match.
//
// created_at values are always ISO-8601 with a trailing "Z" and
// millisecond precision, which makes plain string comparison equivalent
// to chronological comparison, which the "/sessions/recent" window check
// in internal/httpapi relies on.
func GetLatestSessionSince(db *sql.DB, sinceInclusive string) (*Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM charging_sessions WHERE created_at >= ? ORDER BY created_at DESC, id DESC LIMIT 1`, sinceInclusive)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest session since: %w", err)
	}
	return &session, nil
}

// ListSessions returns a page of sessions ordered by (created_at DESC, id DESC).
func ListSessions(db *sql.DB, limit, offset uint32) ([]Session, error) {
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM charging_sessions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ListRecentLogEvents returns the newest log events, same ordering
// convention as sessions.
func ListRecentLogEvents(db *sql.DB, limit uint32) ([]LogEvent, error) {
	rows, err := db.Query(`SELECT id, created_at, level, code, message, source, station_id, details_json
		FROM log_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent log events: %w", err)
	}
	defer rows.Close()

	var events []LogEvent
	for rows.Next() {
		var e LogEvent
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Level, &e.Code, &e.Message, &e.Source, &e.StationID, &e.DetailsJSON); err != nil {
			return nil, fmt.Errorf("scan log event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountSessions returns the total number of persisted sessions.
func CountSessions(db *sql.DB) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM charging_sessions`).Scan(&count)
	return count, err
}

// CountLogEvents returns the total number of persisted log events.
func CountLogEvents(db *sql.DB) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM log_events`).Scan(&count)
	return count, err
}

// CountSessionLogEvents returns how many log events are linked to sessionID.
func CountSessionLogEvents(db *sql.DB, sessionID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM charging_session_log_events WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}
