package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings to keep log queries stable.
const (
	// Identity
	FieldJobID       = "job_id"
	FieldExecutionID = "execution_id"
	FieldEventID     = "event_id"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldAttempt   = "attempt"

	// Scheduling
	FieldRunTime     = "run_time"
	FieldNextRunTime = "next_run_time"
	FieldEventCode   = "event_code"
	FieldOutcome     = "outcome"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldMaxAge     = "max_age"
	FieldInterval   = "interval"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// Status
	FieldStatus  = "status"
	FieldHealthy = "healthy"

	// Storage
	FieldPath = "path"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	componentKey contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext decorates base with the fields carried by ctx.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	base = OrNop(base)
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	store := schedule.NewStore(handle, schedule.StoreConfig{}, logger.ComponentLogger("pulse.jobstore"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return OrNop(parent).With(keysAndValues...)
}
