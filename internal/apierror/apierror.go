// Package apierror carries HTTP-aware errors from the service layer to the API layer.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// InternalMessage is what clients see for any unexpected failure.
const InternalMessage = "Internal server error"

// Error is a business or request error with the HTTP status it should surface as.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Body is the JSON payload written for an error response.
type Body struct {
	Error BodyError `json:"error"`
}

type BodyError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// Body renders the error as the public response payload.
func (e *Error) Body() Body {
	return Body{Error: BodyError{StatusCode: e.StatusCode, Message: e.Message}}
}

func New(status int, message string) *Error {
	return &Error{StatusCode: status, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, message)
}

// Internal wraps an unexpected failure. The cause is kept for logging only.
func Internal(err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Message: InternalMessage, Err: err}
}

// From returns the *Error in err's chain, or an internal error wrapping err.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// Is reports whether err carries an *Error with the given status.
func Is(err error, status int) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.StatusCode == status
}
