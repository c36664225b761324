package services

import (
	"errors"
	"fmt"
)

// Error kinds returned by the engines. Match them with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrPermission is the invalid operation of acting on someone else's content.
	ErrPermission = fmt.Errorf("permission denied: %w", ErrInvalidOperation)
)

// Error is a recoverable engine failure that the presentation layer turns into a 4xx response.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func validationError(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func invalidOperation(format string, args ...any) error {
	return &Error{Kind: ErrInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

func permissionDenied(format string, args ...any) error {
	return &Error{Kind: ErrPermission, Message: fmt.Sprintf(format, args...)}
}
