package harvest

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Code identifies a stable error category surfaced through the API and
// recorded on failed jobs.
type Code string

// Error taxonomy codes.
const (
	CodeInvalidJobConfig  Code = "invalid_job_config"
	CodeInvalidTransition Code = "invalid_transition"
	CodeFetchFailed       Code = "fetch_failed"
	CodeSourceBlocked     Code = "source_blocked"
	CodeExtractionFailed  Code = "extraction_failed"
	CodeTimeout           Code = "timeout"
	CodeStorageFailure    Code = "storage_failure"
	CodeInternal          Code = "internal"
)

// Error carries a taxonomy code alongside a human-readable message and
// an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a coded error with a formatted message.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy code and message to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the taxonomy code from err. Context deadline failures
// map to the timeout code; everything else uncoded is internal, so no
// failure ever leaves the taxonomy.
func CodeOf(err error) Code {
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}
