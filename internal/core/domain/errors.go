package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so sentinels below work
// with errors.Is even when the concrete error was built with extra context.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeVersionConflict   = "VERSION_CONFLICT"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateIgnored  = "DUPLICATE_IGNORED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeMissingField      = "MISSING_REQUIRED_FIELD"
)

var (
	ErrNotFound          = &DomainError{Code: ErrCodeNotFound, Message: "entity not found"}
	ErrVersionConflict   = &DomainError{Code: ErrCodeVersionConflict, Message: "version conflict"}
	ErrValidationFailed  = &DomainError{Code: ErrCodeValidationFailed, Message: "validation failed"}
	ErrDuplicateIgnored  = &DomainError{Code: ErrCodeDuplicateIgnored, Message: "duplicate ignored"}
	ErrInvalidTransition = &DomainError{Code: ErrCodeInvalidTransition, Message: "invalid transition"}
)

func NewNotFoundError(entity, key string) *DomainError {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %s not found", entity, key),
	}
}

func NewVersionConflictError(entity, key string, version int) *DomainError {
	return &DomainError{
		Code:    ErrCodeVersionConflict,
		Message: fmt.Sprintf("%s %s was modified concurrently (expected version %d)", entity, key, version),
	}
}

func NewValidationFailedError(reason string) *DomainError {
	return &DomainError{
		Code:    ErrCodeValidationFailed,
		Message: reason,
	}
}

func NewInvalidTransitionError(from, to string) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewMissingRequiredFieldError(field string) *DomainError {
	return &DomainError{
		Code:    ErrCodeMissingField,
		Message: fmt.Sprintf("%s is required", field),
	}
}

// ExhaustedError is returned when a referenced entity is still absent after
// every allowed lookup.
type ExhaustedError struct {
	Entity   string
	Key      string
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s %s not found after %d attempts", e.Entity, e.Key, e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrNotFound
}

// IsErrorCode checks if an error is a DomainError with a specific code
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
