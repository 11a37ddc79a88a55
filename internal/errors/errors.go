// Package errors provides structured error handling for inventorama operations.
// It defines error codes, the per-target and persistence error types, and
// helpers that map an error onto the detail string shown for a scan record.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Target and reachability errors.
	CodeTargetInvalid   ErrorCode = "TARGET_INVALID"
	CodeHostUnreachable ErrorCode = "HOST_UNREACHABLE"

	// Remote query errors.
	CodeRemoteConnection ErrorCode = "REMOTE_CONNECTION"
	CodeRemoteProtocol   ErrorCode = "REMOTE_PROTOCOL"
	CodeUnsupported      ErrorCode = "UNSUPPORTED"

	// Persistence errors.
	CodeFileLocked   ErrorCode = "FILE_LOCKED"
	CodeFileWrite    ErrorCode = "FILE_WRITE"
	CodeFileNotFound ErrorCode = "FILE_NOT_FOUND"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
)

// ScanError represents an error that occurred while scanning one target.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithOperation records which remote operation failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target, Cause: err}
}

// PersistenceError represents a failure to write a record to a durable sink.
type PersistenceError struct {
	Code  ErrorCode
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("[%s] cannot write %s", e.Code, e.Path)
	if e.Code == CodeFileLocked {
		msg = fmt.Sprintf("[%s] %s is locked by another writer", e.Code, e.Path)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// NewPersistenceError creates a persistence error for the given path.
func NewPersistenceError(code ErrorCode, path string, err error) *PersistenceError {
	return &PersistenceError{Code: code, Path: path, Cause: err}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message, operation string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Operation: operation, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{Code: code, Message: message, Cause: err}
}

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var persistErr *PersistenceError
	if stderrors.As(err, &persistErr) {
		return persistErr.Code
	}
	var dbErr *DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	if stderrors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsCanceled reports whether err represents cooperative cancellation.
func IsCanceled(err error) bool {
	return IsCode(err, CodeCanceled)
}

// IsPersistence reports whether err is a durable-write failure.
func IsPersistence(err error) bool {
	var persistErr *PersistenceError
	return stderrors.As(err, &persistErr)
}

// Detail renders the human-readable detail string recorded on a scan record
// for the given per-target error.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	cause := err
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) && scanErr.Cause != nil {
		cause = scanErr.Cause
	}

	switch GetCode(err) {
	case CodeTargetInvalid:
		return "Invalid IP/Segment"
	case CodeHostUnreachable:
		return "Host not reachable"
	case CodeCanceled:
		return "Operation canceled by user"
	case CodeRemoteConnection:
		return "Connection failed: " + cause.Error()
	case CodePermission:
		return "Access denied: " + cause.Error()
	case CodeRemoteProtocol, CodeUnsupported:
		return "Remote query error: " + cause.Error()
	default:
		return "Unknown error: " + cause.Error()
	}
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrHostUnreachable creates an error for unreachable hosts.
func ErrHostUnreachable(target string) *ScanError {
	return NewScanErrorWithTarget(CodeHostUnreachable, "Host is unreachable", target)
}

// ErrRemoteConnection creates an error for a failed remote session.
func ErrRemoteConnection(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeRemoteConnection, "Remote connection failed", target, err)
}

// ErrPermissionDenied creates an error for rejected remote credentials.
func ErrPermissionDenied(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodePermission, "Remote access denied", target, err)
}

// ErrRemoteProtocol creates an error for a malformed or failed remote reply.
func ErrRemoteProtocol(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeRemoteProtocol, "Remote query failed", target, err)
}

// ErrUnsupported reports a property the remote backend cannot provide.
func ErrUnsupported(target, property string) *ScanError {
	return NewScanErrorWithTarget(CodeUnsupported, "Property not supported by backend: "+property, target)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
