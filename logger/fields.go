package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across repost.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldScheduleID  = "schedule_id"
	FieldExecutionID = "execution_id"
	FieldRequestID   = "request_id"
	FieldAccount     = "account"

	// Components
	FieldComponent = "component"
	FieldSymbol    = "symbol"

	// Posting workflow
	FieldStage    = "stage"
	FieldStrategy = "strategy"
	FieldHeadless = "headless"
	FieldURL      = "url"
	FieldArtifact = "artifact"
	FieldTitle    = "title"

	// Scheduling
	FieldInterval  = "interval"
	FieldNextRunAt = "next_run_at"
	FieldLateness  = "lateness"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldAttempt    = "attempt"

	// Errors
	FieldError = "error"

	// Status
	FieldStatus = "status"
	FieldState  = "state"

	// Network
	FieldAddress = "address"
	FieldMethod  = "method"
	FieldPath    = "path"
)

// Context keys for propagating logging context
type contextKey string

const (
	scheduleIDKey  contextKey = "logger_schedule_id"
	executionIDKey contextKey = "logger_execution_id"
	requestIDKey   contextKey = "logger_request_id"
)

// WithScheduleID adds a schedule identity to the context for logging
func WithScheduleID(ctx context.Context, scheduleID string) context.Context {
	return context.WithValue(ctx, scheduleIDKey, scheduleID)
}

// WithExecutionID adds an execution ID to the context for logging
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(scheduleIDKey).(string); ok && id != "" {
		fields = append(fields, FieldScheduleID, id)
	}
	if id, ok := ctx.Value(executionIDKey).(string); ok && id != "" {
		fields = append(fields, FieldExecutionID, id)
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, FieldRequestID, id)
	}

	return fields
}

// FromContext returns base with fields extracted from ctx attached.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
