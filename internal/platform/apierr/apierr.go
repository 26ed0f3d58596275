package apierr

import (
	"fmt"
	"net/http"
	"time"
)

// Error is a failure with a known HTTP status and machine-readable code.
// Handlers return it from lower layers; the response layer decides how much
// of Err reaches the caller.
type Error struct {
	Status int
	Code   string
	Err    error
	// RetryAfter is sent as a Retry-After header when non-zero.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Server reports a 5xx, whose text never leaves the process.
func (e *Error) Server() bool { return e != nil && e.Status >= http.StatusInternalServerError }

// RetryAfterSeconds renders RetryAfter for the header, rounding up.
func (e *Error) RetryAfterSeconds() string {
	if e == nil || e.RetryAfter <= 0 {
		return ""
	}
	secs := int64((e.RetryAfter + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d", secs)
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func BadRequest(code string, err error) *Error {
	return New(http.StatusBadRequest, code, err)
}

func Conflict(code string, err error) *Error {
	return New(http.StatusConflict, code, err)
}

func Internal(code string, err error) *Error {
	return New(http.StatusInternalServerError, code, err)
}

// Unavailable is a 503 that tells the caller when to come back.
func Unavailable(code string, err error, retryAfter time.Duration) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: code, Err: err, RetryAfter: retryAfter}
}
