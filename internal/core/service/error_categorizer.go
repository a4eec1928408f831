package service

import (
	"context"
	"errors"

	"github.com/DanielPopoola/librarian/internal/core/domain"
)

// ErrorCategory represents the nature of an error for logging at the
// consumption boundary.
type ErrorCategory string

const (
	CategoryTransient      ErrorCategory = "TRANSIENT"
	CategoryPermanent      ErrorCategory = "PERMANENT"
	CategoryBusinessRule   ErrorCategory = "BUSINESS_RULE"
	CategoryClientError    ErrorCategory = "CLIENT_ERROR"
	CategoryInfrastructure ErrorCategory = "INFRASTRUCTURE"
)

// CategorizeError determines the error category for logging and metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransient
	}

	// Retries already ran out for both of these.
	var exhausted *domain.ExhaustedError
	if errors.As(err, &exhausted) {
		return CategoryPermanent
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		return CategoryPermanent
	}

	if errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrValidationFailed) ||
		errors.Is(err, domain.ErrDuplicateIgnored) {
		return CategoryBusinessRule
	}

	if errors.Is(err, domain.ErrNotFound) ||
		domain.IsErrorCode(err, domain.ErrCodeMissingField) {
		return CategoryClientError
	}

	if errors.Is(err, ErrMalformedPayload) {
		return CategoryPermanent
	}

	return CategoryInfrastructure
}

// IsRetryable returns true if the error category suggests retry
func IsRetryable(err error) bool {
	category := CategorizeError(err)
	return category == CategoryTransient || category == CategoryInfrastructure
}
