package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotReserved       = errors.New("not reserved")
	ErrInvalidAdjustment = errors.New("invalid adjustment")
	ErrTransientStorage  = errors.New("transient storage error")
	ErrOptimisticLock    = errors.New("optimistic lock conflict")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrEventNotFound     = errors.New("outbox event not found")

	// ErrItemNotFound is a validation failure for every mutation except receive.
	ErrItemNotFound = fmt.Errorf("%w: item not found", ErrValidation)
)

// Validationf returns an error wrapping ErrValidation with a detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Retryable reports whether err is a conflict or transient storage failure
// that can be safely retried from the start of a unit of work.
func Retryable(err error) bool {
	return errors.Is(err, ErrOptimisticLock) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrTransientStorage)
}
