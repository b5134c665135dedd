package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across reqsync.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldRequestID    = "request_id"
	FieldConnectionID = "connection_id"
	FieldRemoteAddr   = "remote_addr"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Requisitions
	FieldRecordID   = "record_id"
	FieldFromRecord = "from_record"
	FieldRecruiter  = "recruiter"
	FieldField      = "field"
	FieldVersion    = "version"
	FieldAssigned   = "assigned"

	// Events
	FieldEventType = "event_type"
	FieldSeq       = "seq"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts
	FieldCount = "count"

	// Status
	FieldState = "state"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"
)

// Context keys for propagating logging context
type contextKey string

const (
	requestIDKey    contextKey = "logger_request_id"
	connectionIDKey contextKey = "logger_connection_id"
	componentKey    contextKey = "logger_component"
)

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithConnectionID adds a websocket connection ID to the context for logging
func WithConnectionID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connectionIDKey, connID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if connID, ok := ctx.Value(connectionIDKey).(string); ok && connID != "" {
		fields = append(fields, FieldConnectionID, connID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base with the fields carried by ctx attached.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
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
//
// Example:
//
//	type Coordinator struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Coordinator {
//	    return &Coordinator{
//	        logger: logger.ComponentLogger("coord"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
