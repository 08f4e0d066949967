package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the HTTP status an error should surface as.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func BadRequest(msg string, err error) *Error   { return New(http.StatusBadRequest, msg, err) }
func Unauthorized(msg string, err error) *Error { return New(http.StatusUnauthorized, msg, err) }
func Forbidden(msg string, err error) *Error    { return New(http.StatusForbidden, msg, err) }
func NotFound(msg string, err error) *Error     { return New(http.StatusNotFound, msg, err) }
func Conflict(msg string, err error) *Error     { return New(http.StatusConflict, msg, err) }
func Unprocessable(msg string, err error) *Error {
	return New(http.StatusUnprocessableEntity, msg, err)
}
func BadGateway(msg string, err error) *Error { return New(http.StatusBadGateway, msg, err) }
func Internal(err error) *Error {
	return New(http.StatusInternalServerError, "internal server error", err)
}

// WithDetails attaches a client-visible payload, e.g. server-computed totals.
func (e *Error) WithDetails(d any) *Error {
	e.Details = d
	return e
}

// As extracts an *Error from err's chain; anything else becomes a 500.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
