// Package apperrors is the single error currency crossing package
// boundaries in this module. It extends the teacher's plain severity-based
// AppError with the Kind/RecoveryAction taxonomy the pipeline's error
// handler needs to classify failures per pipeline stage.
package apperrors

import (
	"fmt"
	"runtime"
	"time"
)

// Kind classifies which pipeline stage produced the error.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindParsing      Kind = "PARSING"
	KindStorage      Kind = "STORAGE"
	KindAnalysis     Kind = "ANALYSIS"
	KindNotification Kind = "NOTIFICATION"
	KindBroadcast    Kind = "BROADCAST"
	KindInternal     Kind = "INTERNAL"
)

// RecoveryAction is the policy the error handler attaches to a classified error.
type RecoveryAction string

const (
	ActionRetry              RecoveryAction = "RETRY"
	ActionDrop               RecoveryAction = "DROP"
	ActionSynthesizeFallback RecoveryAction = "SYNTHESIZE_FALLBACK"
	ActionEscalate           RecoveryAction = "ESCALATE"
	ActionNone               RecoveryAction = "NONE"
)

// defaultRecoveryActions mirrors the table in SPEC_FULL.md §7.
var defaultRecoveryActions = map[Kind]RecoveryAction{
	KindValidation:   ActionDrop,
	KindParsing:      ActionSynthesizeFallback,
	KindStorage:      ActionRetry,
	KindAnalysis:     ActionNone,
	KindNotification: ActionRetry,
	KindBroadcast:    ActionNone,
	KindInternal:     ActionEscalate,
}

// Severity levels for errors, carried over from the teacher's model.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AppError is a structured, classified error attached to a correlation ID
// (typically an entry_id or event_id) so it can be matched back to the unit
// of work that produced it.
type AppError struct {
	Kind           Kind
	Code           string
	Message        string
	Component      string
	Operation      string
	Cause          error
	StackTrace     string
	Metadata       map[string]interface{}
	Timestamp      time.Time
	Severity       Severity
	RecoveryAction RecoveryAction
	CorrelationID  string
}

// New creates a classified AppError with the default recovery action for kind.
func New(kind Kind, component, operation, message string) *AppError {
	_, file, line, _ := runtime.Caller(1)
	action, ok := defaultRecoveryActions[kind]
	if !ok {
		action = ActionNone
	}
	return &AppError{
		Kind:           kind,
		Code:           string(kind),
		Message:        message,
		Component:      component,
		Operation:      operation,
		StackTrace:     fmt.Sprintf("%s:%d", file, line),
		Metadata:       make(map[string]interface{}),
		Timestamp:      time.Now(),
		Severity:       SeverityMedium,
		RecoveryAction: action,
	}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s(%s): %s: %v", e.Component, e.Operation, e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s(%s): %s", e.Component, e.Operation, e.Kind, e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error { return e.Cause }

// Wrap attaches cause as the underlying error.
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithMetadata attaches a single metadata key/value pair.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithSeverity overrides the default severity.
func (e *AppError) WithSeverity(s Severity) *AppError {
	e.Severity = s
	return e
}

// WithCorrelationID attaches the entry/event ID this error pertains to.
func (e *AppError) WithCorrelationID(id string) *AppError {
	e.CorrelationID = id
	return e
}

// WithRecoveryAction overrides the default recovery action for this instance.
func (e *AppError) WithRecoveryAction(a RecoveryAction) *AppError {
	e.RecoveryAction = a
	return e
}

// IsCritical reports whether the severity is the highest tier.
func (e *AppError) IsCritical() bool { return e.Severity == SeverityCritical }

// IsRecoverable reports whether the recovery action implies another attempt
// is worthwhile.
func (e *AppError) IsRecoverable() bool {
	switch e.RecoveryAction {
	case ActionRetry, ActionSynthesizeFallback:
		return true
	default:
		return false
	}
}

// ToMap flattens the error for structured logging.
func (e *AppError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_kind":      string(e.Kind),
		"error_code":      e.Code,
		"error_message":   e.Message,
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_severity":  string(e.Severity),
		"error_recovery":  string(e.RecoveryAction),
		"error_timestamp": e.Timestamp,
	}
	if e.CorrelationID != "" {
		result["error_correlation_id"] = e.CorrelationID
	}
	if e.StackTrace != "" {
		result["error_stack_trace"] = e.StackTrace
	}
	if e.Cause != nil {
		result["error_cause"] = e.Cause.Error()
	}
	for k, v := range e.Metadata {
		result[fmt.Sprintf("error_meta_%s", k)] = v
	}
	return result
}

// Convenience constructors, one per kind, mirroring the teacher's
// ConfigError/ResourceError/... family.

func ValidationError(operation, message string) *AppError {
	return New(KindValidation, "validator", operation, message)
}

func ParsingError(operation, message string) *AppError {
	return New(KindParsing, "parser", operation, message)
}

func StorageError(operation, message string) *AppError {
	return New(KindStorage, "persistence", operation, message).WithSeverity(SeverityHigh)
}

func AnalysisError(operation, message string) *AppError {
	return New(KindAnalysis, "analyzer", operation, message)
}

func NotificationError(operation, message string) *AppError {
	return New(KindNotification, "notify", operation, message)
}

func BroadcastError(operation, message string) *AppError {
	return New(KindBroadcast, "broadcast", operation, message)
}

func InternalError(operation, message string) *AppError {
	return New(KindInternal, "internal", operation, message).WithSeverity(SeverityCritical)
}

// IsAppError reports whether err is an *AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// AsAppError converts err to *AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// WrapUnclassified wraps a plain error as an INTERNAL AppError when the
// caller has no more specific classification available.
func WrapUnclassified(err error, component, operation string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return InternalError(operation, err.Error()).Wrap(err).WithMetadata("component_hint", component)
}
