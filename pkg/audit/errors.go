package audit

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an entry ID does not exist.
var ErrNotFound = errors.New("audit entry not found")

// StorageError represents an error from the storage backend.
type StorageError struct {
	Backend   string // "memory", "sqlite", "postgres"
	Operation string // "append", "get", "query", "count"
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// RecorderError represents a failure to record an entry.
type RecorderError struct {
	EntryID string
	Action  string
	Cause   error
}

// Error implements the error interface.
func (e *RecorderError) Error() string {
	return fmt.Sprintf("failed to record audit entry %s (action=%s): %v", e.EntryID, e.Action, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RecorderError) Unwrap() error {
	return e.Cause
}

// NewRecorderError creates a new RecorderError.
func NewRecorderError(entryID, action string, cause error) *RecorderError {
	return &RecorderError{
		EntryID: entryID,
		Action:  action,
		Cause:   cause,
	}
}

// ExportError represents an error during export.
type ExportError struct {
	Format string // "json", "csv"
	Cause  error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s]: %v", e.Format, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, cause error) *ExportError {
	return &ExportError{
		Format: format,
		Cause:  cause,
	}
}

// QueryError represents an invalid query.
type QueryError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Message)
}

// NewQueryError creates a new QueryError.
func NewQueryError(field, message string) *QueryError {
	return &QueryError{Field: field, Message: message}
}
