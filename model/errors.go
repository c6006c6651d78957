package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced entity or relation does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrTransaction is returned when the store rejected or could not complete a write.
	ErrTransaction = errors.New("transaction error")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation error")
)

// NewNotFoundError returns an error matching ErrNotFound.
func NewNotFoundError(kind string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, kind, id)
}

// NewTransactionError returns an error matching both ErrTransaction and err.
func NewTransactionError(err error) error {
	return fmt.Errorf("%w: %w", ErrTransaction, err)
}

// NewValidationError returns an error matching ErrValidation.
func NewValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
