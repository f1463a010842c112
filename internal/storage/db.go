// Package storage is the embedded relational store behind the telemetry
// agent: versioned schema migrations, writer/reader connection factories,
// and the session/log-event command and query statements. Grounded in the
// teacher's database/db.go pragma/DSN pattern, generalized to the
// writer/reader pragma split this engine needs, and in
// original_source/src/adapters/db.rs for the migration-engine mechanics.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// LatestSchemaVersion is the highest user_version this binary knows how to
// run against. An on-disk version greater than this is a fatal startup
// error (ErrSchemaTooNew).
const LatestSchemaVersion = 5

// OpenWriter opens the single writer connection for path, applying the
// pragmas that give us WAL journaling, a 5s busy timeout, NORMAL
// durability and foreign-key enforcement, then runs pending migrations.
// SetMaxOpenConns(1) is not a performance tweak here: it is the mechanism
// that enforces "at most one writer holds the database mutex at any
// moment" that a single shared writer connection requires.
func OpenWriter(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping writer db: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenReader opens a read-only connection suitable for the api run mode.
// It does not run migrations; callers should check SchemaVersion
// themselves and refuse to serve if it is 0 (uninitialized).
func OpenReader(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_query_only=on&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open reader db: %w", err)
	}
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping reader db: %w", err)
	}

	return db, nil
}
