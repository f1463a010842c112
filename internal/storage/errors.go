package storage

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// IsRetryableBusy reports whether err is a SQLITE_BUSY/SQLITE_LOCKED
// condition from the driver — the only storage errors the poller's
// persistence retry policy is allowed to retry, upgraded from a
// string-sniffing check on the error message to a typed comparison
// against the driver's own error codes.
func IsRetryableBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
