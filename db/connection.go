package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
)

// Options tunes how a SQLite database is opened.
type Options struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultOptions returns the settings used by Open.
func DefaultOptions() Options {
	return Options{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// DSN builds a go-sqlite3 connection string for path.
// Pragmas are passed as DSN parameters so every pooled connection gets them,
// and _txlock=immediate makes BeginTx take the write lock up front.
func DSN(path string, opts Options) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_journal_mode", "WAL")
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", fmt.Sprintf("%d", opts.BusyTimeout.Milliseconds()))
	return "file:" + path + "?" + q.Encode()
}

// Open opens a SQLite database at the specified path with the default options.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	return OpenWithOptions(path, DefaultOptions(), logger)
}

// OpenWithOptions opens a SQLite database and verifies it with a ping.
func OpenWithOptions(path string, opts Options, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	db, err := sql.Open("sqlite3", DSN(path, opts))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to connect to database %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
			"busy_timeout_ms", opts.BusyTimeout.Milliseconds(),
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies pending migrations.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to migrate database %s", path)
	}
	return db, nil
}

// Opener produces a fresh connection pool. Handle calls it on reconnect.
type Opener func() (*sql.DB, error)

// Handle owns the current *sql.DB and can swap it for a fresh one when the
// old pool is found broken. All store operations obtain the pool through it.
type Handle struct {
	mu         sync.RWMutex
	db         *sql.DB
	open       Opener
	dialect    Dialect
	reconnects atomic.Int64
	closed     bool
	logger     *zap.SugaredLogger
}

// NewHandle opens the initial pool using open.
func NewHandle(open Opener, dialect Dialect, log *zap.SugaredLogger) (*Handle, error) {
	db, err := open()
	if err != nil {
		return nil, err
	}
	return &Handle{
		db:      db,
		open:    open,
		dialect: dialect,
		logger:  logger.OrNop(log),
	}, nil
}

// Connect opens (and migrates) the SQLite database at path and returns a
// Handle that reopens the same path on reconnect.
func Connect(path string, opts Options, log *zap.SugaredLogger) (*Handle, error) {
	log = logger.OrNop(log)
	first := true
	open := func() (*sql.DB, error) {
		db, err := OpenWithOptions(path, opts, log)
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if err := Migrate(db, log); err != nil {
				db.Close()
				return nil, errors.Wrapf(err, "failed to migrate database %s", path)
			}
		}
		return db, nil
	}
	return NewHandle(open, DialectSQLite, log)
}

// DB returns the current connection pool.
func (h *Handle) DB() *sql.DB {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.db
}

// Dialect reports the SQL dialect of the backing database.
func (h *Handle) Dialect() Dialect {
	return h.dialect
}

// Reconnects reports how many times the pool has been replaced.
func (h *Handle) Reconnects() int64 {
	return h.reconnects.Load()
}

// Logger returns the handle's logger.
func (h *Handle) Logger() *zap.SugaredLogger {
	return h.logger
}

// Reconnect discards stale and opens a fresh pool. If another caller already
// replaced stale, the current pool is kept and nil is returned.
func (h *Handle) Reconnect(ctx context.Context, stale *sql.DB) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDatabaseClosed
	}
	if stale != nil && h.db != stale {
		return nil
	}

	if h.db != nil {
		// Errors closing a broken pool are expected and carry no information.
		_ = h.db.Close()
	}

	fresh, err := h.open()
	if err != nil {
		h.db = nil
		return errors.Wrap(err, "failed to reopen database")
	}
	h.db = fresh
	n := h.reconnects.Add(1)

	h.logger.Infow("Database connection replaced", "reconnects", n)
	return nil
}

// Close closes the current pool. Further Reconnect calls fail.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// conn returns the current pool or ErrDatabaseClosed when none is open.
func (h *Handle) conn() (*sql.DB, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		if h.closed {
			return nil, ErrDatabaseClosed
		}
		return nil, errors.Mark(errors.New("no open database connection"), ErrDatabaseClosed)
	}
	return h.db, nil
}
