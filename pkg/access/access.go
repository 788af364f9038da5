// Package access verifies the signed identity assertions that the edge
// access-control layer (Cloudflare Access) attaches to every request it
// forwards to the gateway.
//
// Every inbound request carries a JWT in the "cf-access-jwt-assertion"
// header, signed by the edge layer with a rotating RSA key published in a
// JWKS document. The package provides:
//
//   - [KeySetCache]: fetches and caches the published signing keys with a
//     TTL, serving a stale set when a refresh fails.
//   - [Verifier]: validates a raw assertion against the cached keys and
//     yields typed [Claims].
//   - [Middleware]: HTTP middleware that rejects requests without a valid
//     assertion and attaches the verified claims to the request context.
//
// Verification failures are always returned as typed errors from
// pkg/errors; they are converted to HTTP rejections at the middleware
// boundary and never escape as process-level faults.
package access

import (
	"context"
	"net/http"
	"time"
)

// AssertionHeader is the request header carrying the edge layer's signed
// identity assertion.
const AssertionHeader = "cf-access-jwt-assertion"

// userAgent identifies the gateway on outbound requests to the edge
// layer's certificate endpoint.
const userAgent = "AKPPostBufferer/1.0"

// HTTPClient abstracts the HTTP client used for fetching the signing key
// set. The standard [http.Client] satisfies this interface; tests provide
// counting or failing implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Claims is the decoded, verified payload of an edge-layer assertion.
// A Claims value is created per-request by the [Verifier], lives in the
// request context for the duration of the request, and is never persisted.
type Claims struct {
	// Issuer is the "iss" claim, the edge layer's team domain.
	Issuer string

	// Subject is the "sub" claim, the edge layer's opaque user id.
	Subject string

	// Audience is the "aud" claim. It must contain the configured
	// expected audience value; this is checked after signature
	// verification.
	Audience []string

	// Email is the verified email address of the authenticated user.
	// The OAuth broker keys its CSRF state on this value.
	Email string

	// Country is the two-letter country code the edge layer observed.
	Country string

	// ExpiresAt, NotBefore, and IssuedAt are the assertion's temporal
	// claims. Zero values mean the claim was absent.
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
}

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

// claimsKey stores the verified Claims in the request context.
const claimsKey contextKey = iota

// ContextWithClaims returns a new context with the given verified Claims
// attached. This is called by [Middleware] after successful verification.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the verified Claims from the context.
// Returns the claims and true if present, or nil and false if no claims
// have been set. This function never returns non-nil claims with false.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
