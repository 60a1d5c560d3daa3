// Package xdmod provides a Go client for the XDMoD data warehouse's
// raw data export API.
package xdmod

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes reported by the client. Server responses carry their own
// code strings; locally detected failures use the same vocabulary so
// callers classify errors one way regardless of where they surfaced.
const (
	CodeInvalidArgument  = "invalid_argument"
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeTransientNetwork = "transient_network"
)

// Error represents a failed warehouse operation. StatusCode is zero when
// the failure was detected locally (validation) or before a response was
// received (connectivity).
type Error struct {
	StatusCode int
	Code       string
	Message    string

	wrapped error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("xdmod: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("xdmod: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// invalidArgument builds a locally detected invalid-argument error.
func invalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// transient wraps a connectivity failure. The caller may retry the whole
// query inside a fresh session.
func transient(err error) *Error {
	return &Error{Code: CodeTransientNetwork, Message: err.Error(), wrapped: err}
}

// IsAuthError returns true when the credential was missing, invalid, or
// insufficient. The user must re-supply a token; retrying will not help.
func IsAuthError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// IsInvalidArgument returns true when the duration, realm, field, or
// filter identifiers did not resolve, whether rejected locally or by the
// server. The query must be corrected and resubmitted.
func IsInvalidArgument(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusBadRequest || e.Code == CodeInvalidArgument
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsTransient returns true for connectivity failures where no response
// was received. The identical QuerySpec may be resubmitted in a new
// session.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeTransientNetwork
	}
	return false
}
