package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Validation marks a malformed or contradictory request (HTTP 422).
func Validation(code string, err error) *Error {
	return New(http.StatusUnprocessableEntity, code, err)
}

// NotFound marks an unknown job/brand/asset id (HTTP 404).
func NotFound(code string, err error) *Error {
	return New(http.StatusNotFound, code, err)
}

// Storage marks a backing-store failure (HTTP 500).
func Storage(code string, err error) *Error {
	return New(http.StatusInternalServerError, code, err)
}

// StatusOf extracts the HTTP status for err, defaulting to 500.
func StatusOf(err error) (status int, code string) {
	var ae *Error
	if errors.As(err, &ae) {
		status = ae.Status
		code = ae.Code
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, code
	}
	return http.StatusInternalServerError, "internal_error"
}
