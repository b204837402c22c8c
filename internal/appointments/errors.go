package appointments

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("appointments: validation failed")
	ErrNotFound          = errors.New("appointments: not found")
	ErrForbidden         = errors.New("appointments: forbidden")
	ErrConflict          = errors.New("appointments: doctor already booked for an overlapping time")
	ErrInvalidTransition = errors.New("appointments: invalid state transition")
	ErrNotEditable       = errors.New("appointments: appointment can no longer be modified")
	ErrNotYetAvailable   = errors.New("appointments: session is not yet available")
	ErrExpired           = errors.New("appointments: session window has passed")
	ErrSessionNotActive  = errors.New("appointments: session is not active")
	ErrLockNotAcquired   = errors.New("appointments: calendar lock not acquired")
)

// ValidationError describes a rejected request field. Message is safe to show to users.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// InvalidTransitionError is returned when an operation is not allowed from the current state.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("appointments: cannot move from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
