// Package security defines the error taxonomy shared by the threat,
// blocking and geo engines. Every error crossing an engine boundary
// carries a stable code and the HTTP status the API layer maps it to.
package security

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status  int
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func InvalidInput(code, format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Conflict(code, format string, args ...any) *Error {
	return &Error{Status: http.StatusConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code, format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a store or cache failure on a write path.
func Unavailable(code string, cause error, format string, args ...any) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func IsConflict(err error) bool { return statusIs(err, http.StatusConflict) }

func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

func IsInvalidInput(err error) bool { return statusIs(err, http.StatusBadRequest) }

func statusIs(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}

// StatusOf returns the HTTP status for err, defaulting to 500 for errors
// outside the taxonomy.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the machine-readable code for err, or INTERNAL.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
