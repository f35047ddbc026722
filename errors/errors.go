// Package errors provides error handling for pulsestore.
//
// It re-exports github.com/cockroachdb/errors so that stack traces, wrapping
// and marks flow through every package, and defines the sentinels used by the
// job store, the execution store and the reconciler:
//
//	if err := store.UpdateJob(ctx, job); errors.IsNotFoundError(err) {
//	    // the job was removed concurrently
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetailf  = crdb.WithDetailf

	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
	Mark      = crdb.Mark
	Join      = crdb.Join
)

// Assertions
var (
	AssertionFailedf        = crdb.AssertionFailedf
	HasAssertionFailure     = crdb.HasAssertionFailure
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// Sentinels. Use with Is; attach with Mark so the original message survives.
var (
	// ErrNotFound indicates the target row does not exist.
	ErrNotFound = New("not found")

	// ErrConflict indicates a uniqueness violation.
	ErrConflict = New("resource conflict")

	// ErrTransient marks a database connectivity failure that outlived the
	// single retry.
	ErrTransient = New("transient database connectivity error")

	// ErrUnsupportedEvent marks an event code delivered to a handler that
	// was not registered for it.
	ErrUnsupportedEvent = New("unsupported event code")

	// ErrDecode marks a job state blob that could not be restored.
	ErrDecode = New("job state could not be decoded")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsTransientError checks if an error carries the ErrTransient mark.
func IsTransientError(err error) bool {
	return err != nil && Is(err, ErrTransient)
}

// IsUnsupportedEventError checks if an error carries the ErrUnsupportedEvent mark.
func IsUnsupportedEventError(err error) bool {
	return err != nil && Is(err, ErrUnsupportedEvent)
}

// IsDecodeError checks if an error carries the ErrDecode mark.
func IsDecodeError(err error) bool {
	return err != nil && Is(err, ErrDecode)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewDecodeError wraps a decode failure for the given job.
func NewDecodeError(err error, jobID string) error {
	return Mark(Wrapf(err, "failed to restore job %q", jobID), ErrDecode)
}
