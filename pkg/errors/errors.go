// Package errors provides standardized error types and error handling
// utilities for the AKP authentication gateway. It defines the error
// categories the gateway deals in, machine-readable error codes, and helper
// functions for creating, wrapping, and inspecting errors.
//
// # Error Categories
//
// The package defines categories that map to the gateway's failure modes:
//
//   - Validation errors: missing query parameters, malformed input
//   - Assertion errors: the edge-layer identity assertion is missing,
//     malformed, signed with an unknown key, carries the wrong audience,
//     or is outside its validity window
//   - NotFound errors: no CSRF state stored for the caller
//   - Internal errors: unexpected failures, unparseable provider payloads
//   - Unavailable errors: redis or the identity provider cannot be reached
//   - Timeout errors: an outbound call exceeded its deadline
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "AUTH_004") usable for
// tracking, alerting, and client-side handling. Codes follow the pattern
// CATEGORY_XXX where CATEGORY is a short identifier and XXX is a numeric
// code. Codes are stable once assigned.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeAssertionAudience, "assertion audience does not match")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeUnavailableDependency, "csrf state store unreachable")
//
// Check error category:
//
//	if errors.IsAssertion(err) {
//	    // reject the request; never let this reach the process as a fault
//	}
//
// Extract error details for logging:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Error("operation failed", "code", e.Code, "message", e.Message)
//	}
package errors
