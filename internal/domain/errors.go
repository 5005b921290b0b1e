// Package domain defines core types, interfaces, and errors for the analytics engine.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input. Validation failures are surfaced
// before any mutation and are never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// UnsupportedFormatError indicates an export format no renderer handles.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported export format %q", e.Format)
}

// QueryExecutionError indicates the warehouse failed to execute a compiled
// query. Retryable by the caller; never auto-retried internally.
type QueryExecutionError struct {
	Message string
	Err     error
}

func (e *QueryExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// CacheError indicates a cache store failure. Always non-fatal: callers log
// it and bypass the cache.
type CacheError struct {
	Message string
	Err     error
}

func (e *CacheError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CacheError) Unwrap() error { return e.Err }

// RenderError indicates an artifact could not be produced. Fatal for the job.
type RenderError struct {
	Message string
	Err     error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RenderError) Unwrap() error { return e.Err }

// TimeoutError indicates warehouse execution exceeded the caller's deadline.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }

// AlreadyProcessingError indicates a concurrent Process call lost the
// PENDING→PROCESSING compare-and-swap.
type AlreadyProcessingError struct {
	JobID string
}

func (e *AlreadyProcessingError) Error() string {
	return fmt.Sprintf("export job %q is already being processed", e.JobID)
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrQueryExecution wraps a warehouse failure.
func ErrQueryExecution(err error, format string, args ...interface{}) *QueryExecutionError {
	return &QueryExecutionError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrRender wraps a renderer failure.
func ErrRender(err error, format string, args ...interface{}) *RenderError {
	return &RenderError{Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrTimeout creates a TimeoutError with a formatted message.
func ErrTimeout(format string, args ...interface{}) *TimeoutError {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}
