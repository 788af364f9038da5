package access

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gwerr "github.com/akp/postbufferer/pkg/errors"
)

// DefaultClockSkew is the leeway allowed when checking an assertion's
// temporal claims against the current time.
const DefaultClockSkew = 30 * time.Second

// maxAssertionSize is the maximum accepted size for an assertion string
// (8 KB). Larger tokens are rejected to prevent resource exhaustion.
const maxAssertionSize = 8192

// rsaSigningMethods lists the accepted signing algorithms. The edge layer
// signs with RSA only; everything else is rejected at parse time.
var rsaSigningMethods = []string{"RS256", "RS384", "RS512"}

// VerifierConfig holds the configuration for [Verifier].
type VerifierConfig struct {
	// Audience is the application audience tag issued by the edge layer.
	// The assertion's "aud" list must contain this value.
	Audience string

	// ClockSkew is the allowed clock difference between the gateway and
	// the edge layer when checking exp/nbf. Defaults to [DefaultClockSkew].
	ClockSkew time.Duration
}

// Verifier validates raw edge-layer assertions against the signing keys
// held by a [KeySetCache] and yields typed [Claims].
//
// Verifier is safe for concurrent use by multiple goroutines: signature
// checking is pure once a key is resolved, and the key set cache does its
// own locking.
type Verifier struct {
	keys      *KeySetCache
	audience  string
	clockSkew time.Duration
	parser    *jwt.Parser
	tracer    trace.Tracer
}

// NewVerifier creates a Verifier that resolves signing keys through the
// given cache. A zero ClockSkew falls back to [DefaultClockSkew].
func NewVerifier(keys *KeySetCache, cfg VerifierConfig) *Verifier {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = DefaultClockSkew
	}
	return &Verifier{
		keys:      keys,
		audience:  cfg.Audience,
		clockSkew: skew,
		// Claims are validated manually below so audience and temporal
		// failures get distinct error codes in a fixed order.
		parser: jwt.NewParser(
			jwt.WithValidMethods(rsaSigningMethods),
			jwt.WithoutClaimsValidation(),
		),
		tracer: otel.Tracer(tracerName),
	}
}

// assertionClaims is the wire shape of an edge-layer assertion payload.
type assertionClaims struct {
	Email   string `json:"email"`
	Country string `json:"country"`
	jwt.RegisteredClaims
}

// Verify validates a raw assertion string and returns its claims.
//
// Steps, in order: parse the header to extract the key id; resolve the key
// id against the cached key set, forcing exactly one refresh if it is
// absent (a newly rotated key may not be cached yet); verify the RSA
// signature; check that the audience list contains the configured value;
// check exp/nbf against the current time with clock-skew leeway.
//
// Error codes returned:
//   - [gwerr.CodeAssertionMalformed]: unparseable token or missing kid
//   - [gwerr.CodeAssertionUnknownKey]: kid absent even after refresh
//   - [gwerr.CodeAssertionSignature]: bad signature or non-RSA key matched
//   - [gwerr.CodeAssertionAudience]: expected audience not present
//   - [gwerr.CodeAssertionExpired]: outside the validity window
//   - [gwerr.CodeUnavailableDependency]: key set could not be fetched
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	ctx, span := v.tracer.Start(ctx, "access.Verify")
	defer span.End()

	claims, err := v.verify(ctx, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("access.subject", claims.Subject))
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, gwerr.New(gwerr.CodeAssertionMalformed, "access: assertion must not be empty")
	}
	if len(raw) > maxAssertionSize {
		return nil, gwerr.New(gwerr.CodeAssertionMalformed, "access: assertion exceeds maximum size")
	}

	kid, err := v.extractKid(raw)
	if err != nil {
		return nil, err
	}

	key, err := v.resolveKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	var ac assertionClaims
	if _, err := v.parser.ParseWithClaims(raw, &ac, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}); err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeAssertionSignature,
			"access: assertion signature is invalid")
	}

	if !containsAudience(ac.Audience, v.audience) {
		return nil, gwerr.New(gwerr.CodeAssertionAudience,
			"access: assertion audience does not contain the expected value")
	}

	now := time.Now()
	if ac.ExpiresAt != nil && now.After(ac.ExpiresAt.Time.Add(v.clockSkew)) {
		return nil, gwerr.New(gwerr.CodeAssertionExpired, "access: assertion has expired")
	}
	if ac.NotBefore != nil && now.Before(ac.NotBefore.Time.Add(-v.clockSkew)) {
		return nil, gwerr.New(gwerr.CodeAssertionExpired, "access: assertion is not yet valid")
	}

	claims := &Claims{
		Issuer:   ac.Issuer,
		Subject:  ac.Subject,
		Audience: []string(ac.Audience),
		Email:    ac.Email,
		Country:  ac.Country,
	}
	if ac.ExpiresAt != nil {
		claims.ExpiresAt = ac.ExpiresAt.Time
	}
	if ac.NotBefore != nil {
		claims.NotBefore = ac.NotBefore.Time
	}
	if ac.IssuedAt != nil {
		claims.IssuedAt = ac.IssuedAt.Time
	}
	return claims, nil
}

// extractKid parses the token header without verifying the signature and
// returns the key id.
func (v *Verifier) extractKid(raw string) (string, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil || unverified == nil {
		return "", gwerr.New(gwerr.CodeAssertionMalformed, "access: assertion is malformed")
	}

	kid, ok := unverified.Header["kid"].(string)
	if !ok || kid == "" {
		return "", gwerr.New(gwerr.CodeAssertionMalformed, "access: assertion header has no kid")
	}
	return kid, nil
}

// resolveKey looks the kid up in the current key set, forcing exactly one
// refresh when it is absent before giving up with an unknown-key error.
func (v *Verifier) resolveKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, err
	}

	key, found, err := set.Key(kid)
	if err != nil {
		return nil, err
	}
	if found {
		return key, nil
	}

	// The kid may belong to a freshly rotated key the cache has not seen;
	// retry once against a forced refresh.
	set, err = v.keys.ForceRefresh(ctx)
	if err != nil {
		return nil, err
	}

	key, found, err = set.Key(kid)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gwerr.Newf(gwerr.CodeAssertionUnknownKey,
			"access: no signing key with id %q", kid).WithDetail("kid", kid)
	}
	return key, nil
}

// containsAudience reports whether the audience list contains the expected
// value. An empty expected value never matches.
func containsAudience(aud jwt.ClaimStrings, expected string) bool {
	if expected == "" {
		return false
	}
	for _, a := range aud {
		if a == expected {
			return true
		}
	}
	return false
}
