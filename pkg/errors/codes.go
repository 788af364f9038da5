package errors

// Code represents a machine-readable error code for categorizing errors.
// Error codes follow the pattern CATEGORY_XXX where CATEGORY is a short
// identifier (e.g., AUTH, VAL, INT) and XXX is a three-digit numeric code.
//
// Error codes are designed to be:
//   - Stable: Codes do not change once assigned
//   - Unique: Each error condition has a distinct code
//   - Machine-readable: Suitable for automated error handling
type Code string

// Error code categories and their ranges:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Assertion / authentication errors (401 Unauthorized)
//	NF_xxx      - Not found errors (404 Not Found)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Service unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// Validation errors (VAL_xxx) - HTTP 400
	// Used when request input fails validation rules.

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field or parameter is
	// missing. The missing assertion header and missing code/state query
	// parameters use this code.
	CodeValidationRequired Code = "VAL_002"

	// Assertion errors (AUTH_xxx) - HTTP 401
	// Used when the edge-layer identity assertion or the CSRF check fails.

	// CodeAssertion indicates a general assertion verification failure.
	CodeAssertion Code = "AUTH_001"

	// CodeAssertionExpired indicates the assertion is expired or not yet
	// valid (exp/nbf outside the allowed clock-skew window).
	CodeAssertionExpired Code = "AUTH_002"

	// CodeAssertionMalformed indicates the assertion could not be parsed
	// or its header carries no key id.
	CodeAssertionMalformed Code = "AUTH_003"

	// CodeAssertionUnknownKey indicates the assertion's key id is not
	// present in the signing key set, even after a forced refresh.
	CodeAssertionUnknownKey Code = "AUTH_004"

	// CodeAssertionSignature indicates the assertion signature did not
	// verify against the matched key, or the matched key is not an RSA
	// key (a configuration error surfaced as a signature-class failure).
	CodeAssertionSignature Code = "AUTH_005"

	// CodeAssertionAudience indicates the assertion's audience list does
	// not contain the configured expected audience.
	CodeAssertionAudience Code = "AUTH_006"

	// CodeCsrfMismatch indicates the state value presented on the OAuth
	// callback does not match the value stored for the caller's email.
	CodeCsrfMismatch Code = "AUTH_007"

	// Not found errors (NF_xxx) - HTTP 404

	// CodeNotFound indicates a general not found error. The CSRF state
	// store returns this when no state exists for an email.
	CodeNotFound Code = "NF_001"

	// Internal errors (INT_xxx) - HTTP 500

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeProviderResponse indicates the identity provider returned a
	// payload that does not parse as the expected shape. At the
	// code-exchange step this is deliberately downgraded to a redirect
	// back to login rather than surfaced as a 500.
	CodeProviderResponse Code = "INT_004"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependency (redis, the signing
	// key endpoint, the identity provider) is unreachable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates an outbound call to a dependency
	// timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
