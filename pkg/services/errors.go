// Package services defines the error vocabulary shared by the query-facing
// services. The HTTP layer maps these onto status codes in one place.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested alert, environment or
	// incident does not exist
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned for requests the service cannot act on,
	// such as an alert id that is not a stream entry id
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError reports a rejected request field, typically a query
// parameter that failed parsing or range checks.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
