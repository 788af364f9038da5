package server_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akp/postbufferer/internal/server"
	"github.com/akp/postbufferer/pkg/access"
	"github.com/akp/postbufferer/pkg/clients/redis"
	"github.com/akp/postbufferer/pkg/config"
	"github.com/akp/postbufferer/pkg/facebook"
)

const (
	testAudience = "aud-tag-1234"
	testKid      = "edge-key-1"
	testEmail    = "user@example.com"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// memoryCmdable is an in-memory stand-in for the redis command surface.
type memoryCmdable struct {
	mu      sync.Mutex
	values  map[string]string
	counts  map[string]int64
	failing bool
}

func newMemoryCmdable() *memoryCmdable {
	return &memoryCmdable{values: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryCmdable) fail() error {
	if m.failing {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (m *memoryCmdable) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewStatusCmd(ctx)
	if err := m.fail(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	m.values[key] = value.(string)
	cmd.SetVal("OK")
	return cmd
}

func (m *memoryCmdable) Get(ctx context.Context, key string) *goredis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewStringCmd(ctx)
	if err := m.fail(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	v, ok := m.values[key]
	if !ok {
		cmd.SetErr(goredis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (m *memoryCmdable) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			delete(m.values, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (m *memoryCmdable) Exists(ctx context.Context, keys ...string) *goredis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (m *memoryCmdable) TTL(ctx context.Context, _ string) *goredis.DurationCmd {
	cmd := goredis.NewDurationCmd(ctx, time.Second)
	cmd.SetVal(-1)
	return cmd
}

func (m *memoryCmdable) Incr(ctx context.Context, key string) *goredis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewIntCmd(ctx)
	if err := m.fail(); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	m.counts[key]++
	cmd.SetVal(m.counts[key])
	return cmd
}

func (m *memoryCmdable) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (m *memoryCmdable) Close() error { return nil }

func (m *memoryCmdable) setFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	key      *rsa.PrivateKey
	store    *memoryCmdable
	server   *httptest.Server
	graphOK  func(bool)
	exchange func() int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	t.Cleanup(jwks.Close)

	var (
		mu           sync.Mutex
		exchangeOK   = true
		exchangeHits int64
	)
	graphMux := http.NewServeMux()
	graphMux.HandleFunc("/v15.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		exchangeHits++
		ok := exchangeOK
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad code"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "EAAGprovider-token",
			"token_type":   "bearer",
			"expires_in":   5183944,
		})
	})
	graphMux.HandleFunc("/debug_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"app_id":   "123456",
			"type":     "USER",
			"is_valid": true,
			"user_id":  "100001",
			"scopes":   []string{"pages_manage_posts"},
		}})
	})
	graph := httptest.NewServer(graphMux)
	t.Cleanup(graph.Close)

	verifier := access.NewVerifier(
		access.NewKeySetCache(jwks.URL, time.Minute, nil),
		access.VerifierConfig{Audience: testAudience},
	)

	mem := newMemoryCmdable()
	redisClient := redis.NewFromClient(mem, nil)

	broker, err := facebook.NewBroker(facebook.Config{
		ClientID:       "123456",
		ClientSecret:   config.Secret("app-secret"),
		RequiredScopes: "pages_manage_posts,public_profile",
		BaseURL:        "https://gateway.example.com",
		DialogBaseURL:  graph.URL,
		GraphBaseURL:   graph.URL,
	}, facebook.NewStateStore(redisClient, 10*time.Minute), nil)
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Verifier: verifier,
		Broker:   broker,
		Redis:    redisClient,
	}))
	t.Cleanup(srv.Close)

	return &fixture{
		key:    key,
		store:  mem,
		server: srv,
		graphOK: func(ok bool) {
			mu.Lock()
			exchangeOK = ok
			mu.Unlock()
		},
		exchange: func() int64 {
			mu.Lock()
			defer mu.Unlock()
			return exchangeHits
		},
	}
}

// assertion mints a valid signed assertion for the fixture's key.
func (f *fixture) assertion(t *testing.T, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":     "https://team.cloudflareaccess.com",
		"sub":     "edge-user-1",
		"aud":     []string{testAudience},
		"email":   email,
		"country": "US",
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	})
	token.Header["kid"] = testKid
	raw, err := token.SignedString(f.key)
	require.NoError(t, err)
	return raw
}

// get performs a GET with the given assertion header, not following
// redirects so Location headers can be asserted directly.
func (f *fixture) get(t *testing.T, path, assertion string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	if assertion != "" {
		req.Header.Set(access.AssertionHeader, assertion)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRoot_Liveness(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/", "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, "AKPPostBufferer/1.0", resp.Header.Get("X-Powered-By"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestRequestID_CallerSuppliedValueEchoed(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "caller-id-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "caller-id-42", resp.Header.Get("X-Request-Id"))
}

func TestProtectedRoutes_MissingAssertion(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/api/v1/login/facebook",
		"/api/v1/redirect/facebook",
		"/debug/access",
	} {
		resp := f.get(t, path, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "path %s", path)
	}
}

func TestProtectedRoutes_InvalidAssertion(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/v1/login/facebook", "not-a-jwt")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginAndCallback_FullFlow(t *testing.T) {
	f := newFixture(t)
	assertion := f.assertion(t, testEmail)

	// Step 1: login redirects to the provider dialog with a fresh state.
	resp := f.get(t, "/api/v1/login/facebook", assertion)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/v15.0/dialog/oauth", loc.Path)
	assert.Equal(t, "123456", loc.Query().Get("client_id"))
	assert.Equal(t, "https://gateway.example.com/api/v1/redirect/facebook", loc.Query().Get("redirect_uri"))
	state := loc.Query().Get("state")
	require.Regexp(t, "^[a-zA-Z0-9]{16}$", state)

	// Step 2: the provider redirects back; the callback completes the
	// exchange and returns the token with its introspection graph.
	resp = f.get(t, "/api/v1/redirect/facebook?code=authcode-1&state="+state, assertion)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result facebook.LoginResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "EAAGprovider-token", result.AccessToken.AccessToken)
	assert.True(t, result.DebugGraph.Data.IsValid)
	assert.Equal(t, "100001", result.DebugGraph.Data.UserID)
}

func TestCallback_MissingQueryParameters(t *testing.T) {
	f := newFixture(t)
	assertion := f.assertion(t, testEmail)

	for _, query := range []string{"", "?code=abc", "?state=abc"} {
		resp := f.get(t, "/api/v1/redirect/facebook"+query, assertion)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", query)

		var body struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "VAL_002", body.Code)
	}
}

func TestCallback_StateMismatch(t *testing.T) {
	f := newFixture(t)
	assertion := f.assertion(t, testEmail)

	resp := f.get(t, "/api/v1/login/facebook", assertion)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)

	resp = f.get(t, "/api/v1/redirect/facebook?code=authcode-1&state=attackerStateXYZ", assertion)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.exchange(), "mismatched state must never reach the provider")
}

func TestCallback_NoPendingLogin(t *testing.T) {
	f := newFixture(t)
	assertion := f.assertion(t, testEmail)

	resp := f.get(t, "/api/v1/redirect/facebook?code=authcode-1&state=abcdefgh12345678", assertion)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallback_ExchangeFailureRestartsLogin(t *testing.T) {
	f := newFixture(t)
	assertion := f.assertion(t, testEmail)

	resp := f.get(t, "/api/v1/login/facebook", assertion)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")

	f.graphOK(false)
	resp = f.get(t, "/api/v1/redirect/facebook?code=badcode&state="+state, assertion)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "https://gateway.example.com/api/v1/login/facebook", resp.Header.Get("Location"))

	// The stored state survives the failed exchange, so the retried
	// callback succeeds without a new login round.
	f.graphOK(true)
	resp = f.get(t, "/api/v1/redirect/facebook?code=authcode-2&state="+state, assertion)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogin_StateStoreDown(t *testing.T) {
	f := newFixture(t)
	f.store.setFailing(true)

	resp := f.get(t, "/api/v1/login/facebook", f.assertion(t, testEmail))

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDebugRedis_CounterIncrements(t *testing.T) {
	f := newFixture(t)

	for want := int64(1); want <= 2; want++ {
		resp := f.get(t, "/debug/redis", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]int64
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, want, body["counter"])
	}
}

func TestDebugDB_NotConfigured(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/debug/db", "")

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "UNAVAIL_002", body.Code)
}

func TestDebugAccess_EchoesClaims(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/debug/access", f.assertion(t, testEmail))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, testEmail, body["email"])
	assert.Equal(t, "US", body["country"])
	assert.Equal(t, "edge-user-1", body["subject"])
}

func TestErrorBody_NeverLeaksSecrets(t *testing.T) {
	f := newFixture(t)
	f.store.setFailing(true)

	resp := f.get(t, "/api/v1/login/facebook", f.assertion(t, testEmail))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, strings.ToLower(string(body)), "app-secret")
	assert.NotContains(t, string(body), "unexpected EOF")
}
