package app

import (
	"errors"
	"fmt"
)

// Application-level errors. Handlers map them onto transport status codes.
var (
	ErrUnauthenticated   = errors.New("caller is not authenticated")
	ErrNotStaff          = errors.New("caller is not allowed to manage communications")
	ErrInvalidTransition = errors.New("operation not allowed in the current status")
	ErrAlreadySending    = errors.New("communication is already being sent")
	ErrSendInProgress    = errors.New("communication is sending; cancel requested, undispatched batches will be skipped")
	ErrValidation        = errors.New("validation failed")
)

// ValidationError carries a caller-facing message for a rejected input.
// errors.Is(err, ErrValidation) holds for every ValidationError.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
