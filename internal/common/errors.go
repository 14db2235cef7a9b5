// Package common holds the error vocabulary shared by storage, workers and
// the HTTP layer. Callers wrap these with %w and test with errors.Is.
package common

import (
	"errors"
	"fmt"
)

var (
	ErrInternal     = errors.New("internal error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrValidation   = errors.New("validation error")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")

	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrPetNotFound     = fmt.Errorf("pet %w", ErrNotFound)
	ErrJobNotFound     = fmt.Errorf("job %w", ErrNotFound)
	ErrDiaryNotFound   = fmt.Errorf("diary entry %w", ErrNotFound)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)

	// The service refuses work with these instead of queueing without bound.
	ErrQueueFull          = errors.New("worker queue is full")
	ErrQueueClosed        = errors.New("worker queue is closed")
	ErrTooManySubscribers = errors.New("too many progress subscribers")
)

// ValidationError rejects a single request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return e.Field + ": " + e.Message }

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// WrapInternal marks err as a server side failure of operation. The HTTP
// layer logs these and answers with a generic 500.
func WrapInternal(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, errors.Join(ErrInternal, err))
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsOverloaded reports whether err means the service shed load; clients
// should retry later.
func IsOverloaded(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrTooManySubscribers) || errors.Is(err, ErrQueueClosed)
}
