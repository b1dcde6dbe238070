// Package errors defines the typed failures surfaced by the model engine.
// Every expected condition (schema violation, limits, access, uniqueness) is
// reported through one of these types so the boundary layer can map it to a
// client response without inspecting messages.
package errors

import (
	goerrors "errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = goerrors.New("document not found")

	// ErrConflict is the sentinel wrapped by every StoreConflictError
	ErrConflict = goerrors.New("unique constraint violation")

	// ErrOptimisticLockFailed is returned when a document was modified by another operation
	ErrOptimisticLockFailed = goerrors.New("document was modified by another operation")

	// ErrUnavailable is the sentinel wrapped by every StoreUnavailableError
	ErrUnavailable = goerrors.New("store unavailable")
)

// ValidationError reports input the caller can correct: schema violations,
// invalid property names, exceeded limits, unavailable collection names and
// missing tenant references.
type ValidationError struct {
	Model     string
	Document  map[string]interface{}
	Message   string
	FieldPath string
}

// NewValidationError creates a ValidationError for a model
func NewValidationError(model, fieldPath, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Model:     model,
		FieldPath: fieldPath,
		Message:   fmt.Sprintf(format, args...),
	}
}

// WithDocument attaches the offending document
func (e *ValidationError) WithDocument(doc map[string]interface{}) *ValidationError {
	e.Document = doc
	return e
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Model != "" {
		b.WriteString(" for ")
		b.WriteString(e.Model)
	}
	b.WriteString(": ")
	if e.FieldPath != "" {
		b.WriteString(e.FieldPath)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// AccessError reports an authorization failure
type AccessError struct {
	Model   string
	Message string
}

// NewAccessError creates an AccessError
func NewAccessError(model, format string, args ...interface{}) *AccessError {
	return &AccessError{Model: model, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *AccessError) Error() string {
	if e.Model == "" {
		return "access denied: " + e.Message
	}
	return fmt.Sprintf("access denied on %s: %s", e.Model, e.Message)
}

// StoreConflictError reports a unique index violation detected by the store.
// Callers should retry with different input, not treat it as transient.
type StoreConflictError struct {
	Collection string
	Index      string
	Err        error
}

// Error implements the error interface
func (e *StoreConflictError) Error() string {
	msg := "unique constraint violation"
	if e.Collection != "" {
		msg += " in " + e.Collection
	}
	if e.Index != "" {
		msg += " on " + e.Index
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrConflict as the sentinel of every conflict
func (e *StoreConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Unwrap returns the driver error
func (e *StoreConflictError) Unwrap() error {
	return e.Err
}

// StoreUnavailableError reports an I/O or connectivity failure of the store.
// The engine never retries it.
type StoreUnavailableError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

// Is reports ErrUnavailable as the sentinel of every unavailability
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unwrap returns the driver error
func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// IsValidation returns true if err is or wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return goerrors.As(err, &ve)
}

// IsAccess returns true if err is or wraps an AccessError
func IsAccess(err error) bool {
	var ae *AccessError
	return goerrors.As(err, &ae)
}

// IsConflict returns true for unique violations and optimistic lock failures
func IsConflict(err error) bool {
	return goerrors.Is(err, ErrConflict) || goerrors.Is(err, ErrOptimisticLockFailed)
}

// IsUnavailable returns true if err is or wraps a StoreUnavailableError
func IsUnavailable(err error) bool {
	return goerrors.Is(err, ErrUnavailable)
}

// IsNotFound returns true if err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return goerrors.Is(err, ErrNotFound)
}
