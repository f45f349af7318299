package bridge

import (
	"errors"
	"fmt"
)

// Error is a synchronous failure of a command-surface call.
//
// Timeouts and aborts are not errors: they come back as wait statuses.
// An abrupt engine death is not an error either; it poisons the process.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Instance identifies the affected instance, if any.
	Instance string
}

// ErrorCode categorizes bridge errors.
type ErrorCode string

const (
	// ErrCodeInvalidInput indicates a malformed command or argument. No state
	// changes.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeUnavailable indicates the instance is dead or tearing down.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
)

// ErrUnavailable is matched by errors.Is for any unavailable-instance error.
var ErrUnavailable = errors.New("instance is shutting down")

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Instance != "" {
		return fmt.Sprintf("%s: %s (instance=%s)", e.Code, e.Message, e.Instance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrUnavailable) match coded errors.
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable && e.Code == ErrCodeUnavailable
}

// IsInvalidInput reports whether err is an input error.
func IsInvalidInput(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == ErrCodeInvalidInput
	}
	return false
}

// IsUnavailable reports whether err is an unavailable-instance error.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func newInputError(instance, format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf(format, args...), Instance: instance}
}

func newUnavailableError(instance string) *Error {
	return &Error{Code: ErrCodeUnavailable, Message: ErrUnavailable.Error(), Instance: instance}
}
