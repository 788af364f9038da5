package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error.
// Returns the *Error and true on success, nil and false otherwise.
// This function traverses the error chain using errors.As.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    log.Printf("code=%s message=%s", e.Code, e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code of an error, or CodeInternal if the error
// is not an *Error.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternal
}

// HasCode checks if an error has the specified error code.
//
// Example:
//
//	if errors.HasCode(err, errors.CodeProviderResponse) {
//	    // restart the login flow instead of failing
//	}
func HasCode(err error, code Code) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// hasCategory reports whether the error is an *Error in the given category.
func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation checks if an error is a validation error (VAL_xxx).
func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

// IsAssertion checks if an error is an assertion or CSRF error (AUTH_xxx).
// These errors are recovered at the middleware and broker boundaries and
// turned into client-visible rejections.
func IsAssertion(err error) bool {
	return hasCategory(err, "AUTH")
}

// IsNotFound checks if an error is a not found error (NF_xxx).
func IsNotFound(err error) bool {
	return hasCategory(err, "NF")
}

// IsInternal checks if an error is an internal error (INT_xxx).
func IsInternal(err error) bool {
	return hasCategory(err, "INT")
}

// IsUnavailable checks if an error is an unavailable error (UNAVAIL_xxx).
func IsUnavailable(err error) bool {
	return hasCategory(err, "UNAVAIL")
}

// IsTimeout checks if an error is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool {
	return hasCategory(err, "TIMEOUT")
}

// IsRetryable checks if an error represents a condition the caller may
// reasonably retry: unavailability and timeouts qualify, everything else
// does not.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "UNAVAIL", "TIMEOUT":
		return true
	default:
		return false
	}
}

// IsClientError checks if an error maps to a 4xx HTTP status.
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	status := e.HTTPStatus()
	return status >= 400 && status < 500
}

// IsServerError checks if an error maps to a 5xx HTTP status.
func IsServerError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return e.HTTPStatus() >= 500
}
