package access

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// accessTestGenerateRSAKey generates a 2048-bit RSA key pair for testing.
func accessTestGenerateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key pair")
	return key
}

// accessTestMintAssertion creates an RS256-signed assertion with the given
// kid and claims, defaulting any absent temporal claims to a valid window.
func accessTestMintAssertion(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	raw, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign assertion")
	return raw
}

// jwksServer serves a JWKS document for a mutable set of RSA keys and
// counts fetches. Swap the published keys with setKeys to simulate key
// rotation; set failing to refuse requests.
type jwksServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	extra   []map[string]string // raw JWK entries appended verbatim
	failing bool

	fetches atomic.Int64
}

func newJWKSServer(t *testing.T, keys map[string]*rsa.PublicKey) *jwksServer {
	t.Helper()

	s := &jwksServer{keys: keys}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		var entries []map[string]string
		for kid, pub := range s.keys {
			entries = append(entries, map[string]string{
				"kty": "RSA",
				"kid": kid,
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		entries = append(entries, s.extra...)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": entries})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(keys map[string]*rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *jwksServer) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *jwksServer) addExtra(entry map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra = append(s.extra, entry)
}

// mapKeys builds a kid->public-key map from alternating kid/private-key
// pairs for the common one-key case.
func mapKeys(kid string, key *rsa.PrivateKey) map[string]*rsa.PublicKey {
	return map[string]*rsa.PublicKey{kid: &key.PublicKey}
}

// newBrokenJSONServer serves a 200 response whose body is not valid JSON.
func newBrokenJSONServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	t.Cleanup(s.Close)
	return s
}
