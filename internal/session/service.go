// Package session is the concurrency-safe facade over internal/storage
// that the poller and the HTTP API consume. It is
// grounded in original_source/src/app/services.rs's SqliteSessionService
// and with_connection helper, adapted to Go: a sync.Mutex has no
// "poisoned" state the way a panicking Rust mutex guard does, so Service
// recovers from a panicking operation itself and reports an
// ErrLockPoisoned sentinel in its place.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/aj9599/keba-telemetry/internal/storage"
)

// ErrLockPoisoned is returned when an operation previously panicked while
// holding the service's mutex; it is never retried.
var ErrLockPoisoned = errors.New("database lock poisoned")

// CommandHandler is the write-capability group the poller consumes.
type CommandHandler interface {
	InsertSession(record storage.NewSession) (string, error)
	InsertLogEvent(record storage.NewLogEvent) (string, error)
	LinkSessionLogEvents(sessionID string, logEventIDs []string) error
}

// QueryHandler is the read-capability group the HTTP API consumes.
type QueryHandler interface {
	GetLatestSession() (*storage.Session, error)
	GetLatestSessionSince(sinceInclusive string) (*storage.Session, error)
	ListSessions(limit, offset uint32) ([]storage.Session, error)
	GetSchemaVersion() (int, error)
	CountSessions() (int64, error)
	CountLogEvents() (int64, error)
	ListRecentLogEvents(limit uint32) ([]storage.LogEvent, error)
}

// Service implements both CommandHandler and QueryHandler over a shared
// *sql.DB, serializing access with a mutex.
type Service struct {
	mu       sync.Mutex
	db       *sql.DB
	poisoned bool
}

// New wraps db. The caller retains ownership of db's lifecycle (Close).
func New(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) withConn(op func(db *sql.DB) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return ErrLockPoisoned
	}

	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			err = fmt.Errorf("%w: %v", ErrLockPoisoned, r)
		}
	}()

	return op(s.db)
}

func (s *Service) InsertSession(record storage.NewSession) (string, error) {
	var id string
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		id, innerErr = storage.InsertSession(db, record)
		return innerErr
	})
	return id, err
}

func (s *Service) InsertLogEvent(record storage.NewLogEvent) (string, error) {
	var id string
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		id, innerErr = storage.InsertLogEvent(db, record)
		return innerErr
	})
	return id, err
}

func (s *Service) LinkSessionLogEvents(sessionID string, logEventIDs []string) error {
	return s.withConn(func(db *sql.DB) error {
		return storage.LinkSessionLogEvents(db, sessionID, logEventIDs)
	})
}

func (s *Service) GetLatestSession() (*storage.Session, error) {
	var session *storage.Session
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		session, innerErr = storage.GetLatestSession(db)
		return innerErr
	})
	return session, err
}

func (s *Service) GetLatestSessionSince(sinceInclusive string) (*storage.Session, error) {
	var session *storage.Session
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		session, innerErr = storage.GetLatestSessionSince(db, sinceInclusive)
		return innerErr
	})
	return session, err
}

func (s *Service) ListSessions(limit, offset uint32) ([]storage.Session, error) {
	var sessions []storage.Session
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		sessions, innerErr = storage.ListSessions(db, limit, offset)
		return innerErr
	})
	return sessions, err
}

func (s *Service) GetSchemaVersion() (int, error) {
	var version int
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		version, innerErr = storage.SchemaVersion(db)
		return innerErr
	})
	return version, err
}

func (s *Service) CountSessions() (int64, error) {
	var count int64
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		count, innerErr = storage.CountSessions(db)
		return innerErr
	})
	return count, err
}

func (s *Service) CountLogEvents() (int64, error) {
	var count int64
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		count, innerErr = storage.CountLogEvents(db)
		return innerErr
	})
	return count, err
}

func (s *Service) ListRecentLogEvents(limit uint32) ([]storage.LogEvent, error) {
	var events []storage.LogEvent
	err := s.withConn(func(db *sql.DB) error {
		var innerErr error
		events, innerErr = storage.ListRecentLogEvents(db, limit)
		return innerErr
	})
	return events, err
}
