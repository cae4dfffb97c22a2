// Package apierr is the sentinel error type the HTTP surface's handlers
// return: an HTTP status plus a stable machine-readable code, so an error
// originating several calls deep in the store still renders through the
// same envelope a handler would have written directly.
package apierr

import "net/http"

// Error carries the HTTP status and code a failure should render as,
// independent of where in the call stack it was constructed.
type Error struct {
	Status  int
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Wrap builds an Error around cause, keeping cause reachable via errors.Is/As.
func Wrap(status int, code string, cause error) *Error {
	return &Error{Status: status, Code: code, Message: code, cause: cause}
}

// NotFound, BadRequest, Forbidden and Internal are the taxonomy's most
// common shapes.
func NotFound(code, message string) *Error     { return New(http.StatusNotFound, code, message) }
func BadRequest(code, message string) *Error   { return New(http.StatusBadRequest, code, message) }
func Forbidden(code, message string) *Error    { return New(http.StatusForbidden, code, message) }
func Internal(code string, cause error) *Error { return Wrap(http.StatusInternalServerError, code, cause) }
