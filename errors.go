package uthread

import (
	"errors"
	"fmt"
)

// Error is a structured scheduler error with operation context
type Error struct {
	Op    string    // Operation that failed (e.g., "create", "sem_down")
	Code  ErrorCode // High-level error category
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("uthread: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("uthread: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches errors by code, so callers can compare against a bare
// NewError("", code, "") or any error carrying the same code
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeNotRunning      ErrorCode = "scheduler not running"
	ErrCodeAlreadyRunning  ErrorCode = "scheduler already running"
	ErrCodeInvalidArgument ErrorCode = "invalid argument"
	ErrCodeBusy            ErrorCode = "busy"
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// WrapError wraps an existing error with scheduler context
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
