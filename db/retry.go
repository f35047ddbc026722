package db

import (
	"context"
	"database/sql"

	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
)

// Retry runs fn against the current pool. When fn fails with a transient
// connectivity error the pool is replaced and fn runs exactly once more.
// Non-transient errors are returned untouched from the first attempt. If the
// second attempt fails too, its error is returned marked with
// errors.ErrTransient; the driver error stays comparable with errors.Is.
func Retry[T any](ctx context.Context, h *Handle, op string, fn func(*sql.DB) (T, error)) (T, error) {
	var zero T

	db, err := h.conn()
	if err == nil {
		var v T
		v, err = fn(db)
		if err == nil {
			return v, nil
		}
	}
	if !IsTransient(err) {
		return zero, err
	}

	h.logger.Warnw("DB error, retrying with a new DB connection",
		logger.FieldOperation, op,
		logger.FieldError, err,
	)

	if rerr := h.Reconnect(ctx, db); rerr != nil {
		return zero, errors.WithSecondaryError(errors.Mark(err, errors.ErrTransient), rerr)
	}

	db, err = h.conn()
	if err != nil {
		return zero, errors.Mark(err, errors.ErrTransient)
	}
	v, err := fn(db)
	if err != nil {
		if IsTransient(err) {
			return zero, errors.Mark(err, errors.ErrTransient)
		}
		return zero, err
	}

	h.logger.Infow("DB operation succeeded after reconnect",
		logger.FieldOperation, op,
		logger.FieldAttempt, 2,
	)
	return v, nil
}

// RetryExec is Retry for operations without a result.
func RetryExec(ctx context.Context, h *Handle, op string, fn func(*sql.DB) error) error {
	_, err := Retry(ctx, h, op, func(db *sql.DB) (struct{}, error) {
		return struct{}{}, fn(db)
	})
	return err
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error. With the SQLite DSN used by Open, BeginTx takes the write
// lock immediately.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
