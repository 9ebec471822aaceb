package registrar

import (
	"errors"
	"fmt"
)

// ErrorCode classifies registrar failures. Codes are strings so they
// serialize naturally into problem responses.
type ErrorCode string

const (
	// CodeAlreadyExists: the (packageId, version) key is already published.
	// Not retryable with the same inputs.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// CodeNotFound: no release or package under the key.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeForbidden: the caller does not own the package and is not elevated.
	CodeForbidden ErrorCode = "FORBIDDEN"
	// CodeUnavailable: the release exists but may not be distributed.
	CodeUnavailable ErrorCode = "UNAVAILABLE"
	// CodeTransient: an I/O failure or timeout; the whole operation is safe to retry.
	CodeTransient ErrorCode = "TRANSIENT"
	// CodeInvalidInput: malformed identifiers or empty content.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	// CodeInternal: an unexpected failure.
	CodeInternal ErrorCode = "INTERNAL"
)

// Error is the registrar's typed error.
type Error struct {
	Code      ErrorCode
	Op        string
	PackageID string
	Version   string
	Err       error
}

func (e *Error) Error() string {
	key := e.PackageID
	if e.Version != "" {
		key += ":" + e.Version
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, key, e.Code)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, key, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, &Error{Code: CodeForbidden}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Op == "" && t.Err == nil
}

func newError(code ErrorCode, op, packageID, version string, err error) *Error {
	return &Error{Code: code, Op: op, PackageID: packageID, Version: version, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether retrying the same call may succeed.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeTransient
}
