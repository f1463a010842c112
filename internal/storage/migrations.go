package storage

import (
	"database/sql"
	"fmt"
)

type migration struct {
	Version int
	SQL     string
}

// migrations is a fixed ordered list of (version, SQL) pairs. The engine
// has no per-version code paths: it just applies every pending script in
// order inside one transaction. Grounded mechanically in
// original_source/src/adapters/db.rs's run_migrations; the five steps
// below synthesize a realistic schema evolution from an integer-id
// legacy shape to the current string-id shape (the original source file
// only shows the earliest, integer-id shape).
var migrations = []migration{
	{
		Version: 1,
		SQL: `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plugged_at TEXT NOT NULL,
	unplugged_at TEXT NOT NULL,
	kwh REAL NOT NULL,
	created_at TEXT NOT NULL,
	raw_report2 TEXT,
	raw_report3 TEXT
);
`,
	},
	{
		Version: 2,
		SQL: `
CREATE TABLE IF NOT EXISTS charging_sessions (
	id TEXT PRIMARY KEY,
	started_at TEXT,
	finished_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	energy_kwh REAL NOT NULL,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	started_reason TEXT NOT NULL,
	finished_reason TEXT NOT NULL,
	poll_interval_ms INTEGER NOT NULL,
	debounce_samples INTEGER NOT NULL,
	error_count_during_session INTEGER NOT NULL,
	station_id TEXT,
	created_at TEXT NOT NULL,
	raw_report2_start TEXT,
	raw_report3_start TEXT,
	raw_report2_end TEXT,
	raw_report3_end TEXT
);
`,
	},
	{
		Version: 3,
		SQL: `
INSERT INTO charging_sessions (
	id, started_at, finished_at, duration_ms, energy_kwh, source, status,
	started_reason, finished_reason, poll_interval_ms, debounce_samples,
	error_count_during_session, station_id, created_at,
	raw_report2_start, raw_report3_start, raw_report2_end, raw_report3_end
)
SELECT
	'legacy-' || id,
	plugged_at,
	unplugged_at,
	CAST((julianday(unplugged_at) - julianday(plugged_at)) * 86400000 AS INTEGER),
	kwh,
	'legacy',
	'completed',
	'plug_state_transition',
	'plug_state_transition',
	1000,
	2,
	0,
	NULL,
	created_at,
	raw_report2,
	raw_report3,
	raw_report2,
	raw_report3
FROM sessions;

DROP TABLE sessions;
`,
	},
	{
		Version: 4,
		SQL: `
CREATE TABLE IF NOT EXISTS log_events (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	level TEXT NOT NULL,
	code TEXT NOT NULL,
	message TEXT NOT NULL,
	source TEXT NOT NULL,
	station_id TEXT,
	details_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_log_events_created_at ON log_events (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_log_events_station_created_at ON log_events (station_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_log_events_code_created_at ON log_events (code, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_charging_sessions_created_at ON charging_sessions (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_charging_sessions_station_created_at ON charging_sessions (station_id, created_at DESC);
`,
	},
	{
		Version: 5,
		SQL: `
CREATE TABLE IF NOT EXISTS charging_session_log_events (
	session_id TEXT NOT NULL REFERENCES charging_sessions(id) ON DELETE CASCADE,
	log_event_id TEXT NOT NULL REFERENCES log_events(id) ON DELETE CASCADE,
	PRIMARY KEY (session_id, log_event_id)
);

CREATE INDEX IF NOT EXISTS idx_charging_session_log_events_log_event_id
	ON charging_session_log_events (log_event_id);
`,
	},
}

// ErrSchemaTooNew is returned when the database's on-disk user_version is
// greater than LatestSchemaVersion — this binary is older than the schema
// it's pointed at.
type ErrSchemaTooNew struct {
	OnDisk int
	Latest int
}

func (e *ErrSchemaTooNew) Error() string {
	return fmt.Sprintf("database schema version %d is newer than supported version %d", e.OnDisk, e.Latest)
}

// RunMigrations applies every migration step whose version is greater than
// the database's current user_version, inside a single transaction,
// committing once at the end. Running it twice in a row is a no-op.
func RunMigrations(db *sql.DB) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > LatestSchemaVersion {
		return &ErrSchemaTooNew{OnDisk: current, Latest: LatestSchemaVersion}
	}
	if current == LatestSchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("set user_version to %d: %w", m.Version, err)
		}
	}

	return tx.Commit()
}

// SchemaVersion reads PRAGMA user_version.
func SchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
