package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/pulsestore/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// This handles both:
// - Wrapped ErrDatabaseClosed errors from this package
// - Raw sql driver errors that contain "database is closed" in their message
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// transientMessages are driver messages meaning the connection is gone rather
// than the statement being wrong. MySQL and Postgres phrasings are included
// so the classifier holds if the handle is pointed at another driver.
var transientMessages = []string{
	"database is closed",
	"bad connection",
	"invalid connection",
	"connection reset",
	"connection refused",
	"broken pipe",
	"server has gone away",
	"lost connection",
	"server closed the connection",
	"terminating connection",
	"unable to open database file",
	"disk i/o error",
}

// IsTransient reports whether err means the connection is stale or broken.
// Constraint violations, not-found and context cancellation are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) || errors.IsNotFoundError(err) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return true
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsDuplicate reports a uniqueness or primary-key violation.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

// IsForeignKey reports a foreign-key violation, e.g. an execution record
// written for a job that was deleted concurrently.
func IsForeignKey(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}
