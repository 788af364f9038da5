package access

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gwerr "github.com/akp/postbufferer/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package. It follows the Go module path convention for OTel
// instrumentation libraries.
const tracerName = "github.com/akp/postbufferer/pkg/access"

// DefaultKeySetTTL is how long a fetched signing key set is served before
// it is refreshed from the edge layer's certificate endpoint.
const DefaultKeySetTTL = 300 * time.Second

// maxJWKSBody caps the certificate endpoint response body at 1 MB to
// prevent resource exhaustion.
const maxJWKSBody = 1 << 20

// keyEntry holds one published key. Non-RSA keys are retained with a nil
// public key so a kid match against them can be reported as a
// configuration error rather than an unknown key.
type keyEntry struct {
	kty string
	rsa *rsa.PublicKey
}

// KeySet is the full set of currently valid public keys published by the
// edge layer, tagged by key id. Once fetched a KeySet is immutable; a new
// fetch produces a wholly new KeySet, never a partial merge.
type KeySet struct {
	keys      map[string]keyEntry
	fetchedAt time.Time
}

// Key resolves a key id to its RSA public key. It returns a typed error
// when the kid matches a published key of a non-RSA algorithm family: that
// is a configuration error on the edge layer's side, surfaced as a
// signature-class failure rather than an unknown key.
func (s *KeySet) Key(kid string) (*rsa.PublicKey, bool, error) {
	entry, ok := s.keys[kid]
	if !ok {
		return nil, false, nil
	}
	if entry.rsa == nil {
		return nil, true, gwerr.Newf(gwerr.CodeAssertionSignature,
			"access: signing key %q has unsupported algorithm family %q (only RSA is accepted)",
			kid, entry.kty)
	}
	return entry.rsa, true, nil
}

// Len returns the number of published keys, including non-RSA entries.
func (s *KeySet) Len() int {
	return len(s.keys)
}

// KeySetCache fetches and caches the edge layer's published signing keys.
// It holds a single cache slot protected by a mutex; the critical section
// performs the fetch itself, so at most one fetch happens per expiry window
// and concurrent callers during a refresh wait for the same in-flight
// result rather than triggering duplicate fetches.
//
// A failed refresh does not evict a previously fetched key set: key
// rotation is rare and availability wins over freshness, so the cache
// keeps serving the stale set and surfaces the fetch error to telemetry.
//
// A KeySetCache is constructed once at startup with [NewKeySetCache] and
// passed by reference into the [Verifier]; it is never package-level state.
type KeySetCache struct {
	mu    sync.Mutex
	entry *KeySet

	certsURL string
	ttl      time.Duration
	client   HTTPClient
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewKeySetCache creates a key set cache for the given certificate
// endpoint URL. If client is nil, a default [http.Client] with a 10-second
// timeout is used. If ttl is zero, [DefaultKeySetTTL] applies.
func NewKeySetCache(certsURL string, ttl time.Duration, client HTTPClient) *KeySetCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	return &KeySetCache{
		certsURL: certsURL,
		ttl:      ttl,
		client:   client,
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
	}
}

// Keys returns the current signing key set, fetching it on a cache miss
// and refreshing it when the cached copy is older than the TTL. When a
// refresh fails but a previous set exists, the stale set is returned and
// the fetch error is logged.
//
// Error codes returned:
//   - [gwerr.CodeUnavailableDependency]: no cached set and the endpoint
//     is unreachable or returned a malformed payload
func (c *KeySetCache) Keys(ctx context.Context) (*KeySet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry != nil && time.Since(c.entry.fetchedAt) < c.ttl {
		return c.entry, nil
	}

	fresh, err := c.fetch(ctx)
	if err != nil {
		if c.entry != nil {
			// Serve stale keys rather than failing verification.
			c.logger.WarnContext(ctx, "access: signing key refresh failed, serving stale key set",
				"error", err,
				"age", time.Since(c.entry.fetchedAt).String(),
			)
			return c.entry, nil
		}
		return nil, err
	}

	c.entry = fresh
	return fresh, nil
}

// ForceRefresh unconditionally re-fetches the key set, replacing the
// cached copy on success. The [Verifier] calls this once when an
// assertion's kid is not in the cached set, since a newly rotated key may
// not yet be cached. A failed forced refresh falls back to the stale set
// like [KeySetCache.Keys].
func (c *KeySetCache) ForceRefresh(ctx context.Context) (*KeySet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh, err := c.fetch(ctx)
	if err != nil {
		if c.entry != nil {
			c.logger.WarnContext(ctx, "access: forced signing key refresh failed, serving stale key set",
				"error", err,
			)
			return c.entry, nil
		}
		return nil, err
	}

	c.entry = fresh
	return fresh, nil
}

// fetch performs one GET against the certificate endpoint and parses the
// response into a new KeySet. Caller must hold the mutex.
func (c *KeySetCache) fetch(ctx context.Context) (*KeySet, error) {
	ctx, span := c.tracer.Start(ctx, "access.FetchKeySet")
	defer span.End()
	span.SetAttributes(attribute.String("access.certs_url", c.certsURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.certsURL, nil)
	if err != nil {
		return nil, finishFetch(span, gwerr.Wrap(err, gwerr.CodeInternal,
			"access: failed to create key set request"))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, finishFetch(span, gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"access: key set endpoint unreachable"))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, finishFetch(span, gwerr.Newf(gwerr.CodeUnavailableDependency,
			"access: key set endpoint returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, finishFetch(span, gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"access: failed to read key set response"))
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, finishFetch(span, gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"access: key set response is not valid JSON"))
	}

	keys := make(map[string]keyEntry, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		if k.Kty != "RSA" {
			keys[k.Kid] = keyEntry{kty: k.Kty}
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			// Skip malformed keys; other keys in the set stay usable.
			continue
		}
		keys[k.Kid] = keyEntry{kty: k.Kty, rsa: pub}
	}

	span.SetAttributes(attribute.Int("access.key_count", len(keys)))
	return &KeySet{keys: keys, fetchedAt: time.Now()}, nil
}

// finishFetch records the fetch error on the span and returns it.
func finishFetch(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// jwksDocument represents the JSON structure of the certificate endpoint
// response.
type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single key in a JWKS response. Only the fields
// needed for RSA key reconstruction are included.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// parseRSAPublicKey constructs an RSA public key from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("access: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("access: failed to decode RSA exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
