// Package errors provides the typed error taxonomy of the dispatch engine.
// Every error that leaves the engine is a DispatchError carrying a stable code, a category used for
// classification, and a context describing where in the pipeline it occurred.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Category represents the type/category of an error for classification and handling
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryTransport  Category = "transport"
	CategoryRemote     Category = "remote"
	CategoryCircuit    Category = "circuit"
	CategoryDispatch   Category = "dispatch"
	CategoryInternal   Category = "internal"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context provides additional context about where and when an error occurred
type Context struct {
	OperationID string    `json:"operation_id,omitempty"`
	Operation   string    `json:"operation,omitempty"`
	Transport   string    `json:"transport,omitempty"`
	Component   string    `json:"component,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DispatchError defines the interface for all engine errors
type DispatchError interface {
	error

	// Code returns the stable error code
	Code() int

	// Message returns a human-readable error message
	Message() string

	// Details returns detailed technical description for debugging
	Details() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	// Category returns the error category for classification
	Category() Category

	// Severity returns the error severity level
	Severity() Severity

	// Context returns the error context information
	Context() *Context

	// WithContext returns a new error with the provided context
	WithContext(ctx *Context) DispatchError

	// WithDetail returns a new error with additional detail
	WithDetail(detail string) DispatchError

	// WithData returns a new error with structured data
	WithData(data interface{}) DispatchError

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error

	// ToJSON returns the error as a JSON-serializable map
	ToJSON() map[string]interface{}
}

type baseError struct {
	code     int
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *baseError) Code() int { return e.code }
func (e *baseError) Message() string { return e.message }
func (e *baseError) Details() string { return e.details }
func (e *baseError) Data() interface{} { return e.data }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Context() *Context { return e.context }
func (e *baseError) Unwrap() error { return e.cause }

// WithContext returns a new error with the provided context
func (e *baseError) WithContext(ctx *Context) DispatchError {
	newErr := *e
	if ctx != nil && ctx.Timestamp.IsZero() && e.context != nil {
		ctx.Timestamp = e.context.Timestamp
	}
	newErr.context = ctx
	return &newErr
}

// WithDetail returns a new error with additional detail
func (e *baseError) WithDetail(detail string) DispatchError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

// WithData returns a new error with structured data
func (e *baseError) WithData(data interface{}) DispatchError {
	newErr := *e
	newErr.data = data
	return &newErr
}

// ToJSON returns the error as a JSON-serializable map
func (e *baseError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":     e.code,
		"name":     GetErrorCodeName(e.code),
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}
	if e.details != "" {
		result["details"] = e.details
	}
	if e.data != nil {
		result["data"] = e.data
	}
	if e.context != nil {
		result["context"] = e.context
	}
	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}
	return result
}

// MarshalJSON implements json.Marshaler
func (e *baseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewError creates a DispatchError with the given code, category and severity
func NewError(code int, message string, category Category, severity Severity) DispatchError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// NewErrorf creates a new DispatchError with formatted message
func NewErrorf(code int, category Category, severity Severity, format string, args ...interface{}) DispatchError {
	return NewError(code, fmt.Sprintf(format, args...), category, severity)
}

// WrapError wraps an existing error as a DispatchError
func WrapError(err error, code int, message string, category Category, severity Severity) DispatchError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    err,
		context:  &Context{Timestamp: time.Now()},
	}
}

// AsDispatchError extracts the outermost DispatchError from an error chain
func AsDispatchError(err error) (DispatchError, bool) {
	if err == nil {
		return nil, false
	}
	var de DispatchError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsCategory checks if an error is of a specific category
func IsCategory(err error, category Category) bool {
	if de, ok := AsDispatchError(err); ok {
		return de.Category() == category
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code int) bool {
	if de, ok := AsDispatchError(err); ok {
		return de.Code() == code
	}
	return false
}
