// Package facebook brokers the Facebook OAuth2 authorization-code flow on
// behalf of users already authenticated by the edge access layer.
//
// The flow has two halves. [Broker.LoginURL] begins a login: it mints a
// CSRF state token, stores it in Redis under the caller's verified email,
// and builds the provider's authorization dialog URL for the gateway to
// redirect to. [Broker.Callback] completes it: it checks the returned
// state against the stored one, exchanges the authorization code for an
// access token, and introspects the token via the provider's debug
// endpoint.
//
// Failures carry typed codes from pkg/errors. Two deserve attention:
//
//   - [gwerr.CodeCsrfMismatch] when the callback state does not match the
//     stored state (or no login is pending). The HTTP layer maps this to
//     401.
//   - [gwerr.CodeProviderResponse] when the provider's exchange response
//     does not parse as an access token. The HTTP layer maps this to a
//     307 back to the login route so the user can restart the flow,
//     because the usual cause is an expired or already-consumed code.
package facebook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/akp/postbufferer/pkg/config"
	gwerr "github.com/akp/postbufferer/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/akp/postbufferer/pkg/facebook"

// userAgent identifies the gateway on outbound requests to the provider.
const userAgent = "AKPPostBufferer/1.0"

// Provider endpoint defaults, pinned to Graph API v15.0.
const (
	// DefaultDialogBaseURL hosts the user-facing authorization dialog.
	DefaultDialogBaseURL = "https://www.facebook.com"

	// DefaultGraphBaseURL hosts the server-to-server Graph API.
	DefaultGraphBaseURL = "https://graph.facebook.com"

	dialogPath     = "/v15.0/dialog/oauth"
	exchangePath   = "/v15.0/oauth/access_token"
	introspectPath = "/debug_token"
)

// maxProviderBody bounds how much of a provider response is read.
const maxProviderBody = 1 << 20 // 1 MiB

// callbackPath is the gateway route the provider redirects back to. The
// redirect_uri presented at the dialog and exchange steps must be
// byte-identical, so both are derived from the configured base URL with
// this path.
const callbackPath = "/api/v1/redirect/facebook"

// loginPath is the gateway route that starts a login. Exchange-parse
// failures redirect here.
const loginPath = "/api/v1/login/facebook"

// HTTPClient abstracts the HTTP client used for provider calls. The
// standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the broker's provider registration and endpoints.
type Config struct {
	// ClientID is the app id issued by the provider.
	// Environment variable: FB_CLIENT_ID
	ClientID string `yaml:"client_id" env:"FB_CLIENT_ID" required:"true"`

	// ClientSecret is the app secret issued by the provider. Uses the
	// [config.Secret] type to prevent accidental logging.
	// Environment variable: FB_CLIENT_SECRET
	ClientSecret config.Secret `yaml:"client_secret" env:"FB_CLIENT_SECRET" required:"true"`

	// RequiredScopes is the comma-separated scope list requested at the
	// authorization dialog.
	// Environment variable: FB_REQUIRED_SCOPES
	RequiredScopes string `yaml:"required_scopes" env:"FB_REQUIRED_SCOPES"`

	// BaseURL is the gateway's externally visible base URL. The
	// provider's redirect_uri and the restart-login redirect are both
	// derived from it.
	// Environment variable: BASE_URL
	BaseURL string `yaml:"base_url" env:"BASE_URL" required:"true"`

	// DialogBaseURL overrides the provider's dialog host. Tests point
	// this at a local server; production leaves it empty.
	DialogBaseURL string `yaml:"dialog_base_url" env:"FB_DIALOG_BASE_URL"`

	// GraphBaseURL overrides the provider's Graph API host. Tests point
	// this at a local server; production leaves it empty.
	GraphBaseURL string `yaml:"graph_base_url" env:"FB_GRAPH_BASE_URL"`
}

// Validate checks the configuration and applies endpoint defaults.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("facebook: config client_id is required")
	}
	if c.ClientSecret.Value() == "" {
		return fmt.Errorf("facebook: config client_secret is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("facebook: config base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("facebook: config base_url is invalid: %w", err)
	}
	if c.DialogBaseURL == "" {
		c.DialogBaseURL = DefaultDialogBaseURL
	}
	if c.GraphBaseURL == "" {
		c.GraphBaseURL = DefaultGraphBaseURL
	}
	return nil
}

// Broker drives the provider's authorization-code flow. It is safe for
// concurrent use.
type Broker struct {
	cfg    Config
	store  *StateStore
	client HTTPClient
	tracer trace.Tracer
}

// NewBroker creates a Broker. A nil client falls back to a default
// [http.Client] with a bounded timeout.
func NewBroker(cfg Config, store *StateStore, client HTTPClient) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeValidation,
			"facebook: invalid configuration")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Broker{
		cfg:    cfg,
		store:  store,
		client: client,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// RedirectURI returns the gateway's callback URL: the configured base URL
// with its path rewritten to the callback route. Query and fragment of the
// base URL are discarded.
func (b *Broker) RedirectURI() (string, error) {
	u, err := url.Parse(b.cfg.BaseURL)
	if err != nil {
		return "", gwerr.Wrap(err, gwerr.CodeInternalConfiguration,
			"facebook: base URL does not parse")
	}
	u.Path = callbackPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// LoginRestartURL returns the absolute URL of the login route, used as the
// redirect target when a code exchange must be restarted.
func (b *Broker) LoginRestartURL() string {
	return strings.TrimSuffix(b.cfg.BaseURL, "/") + loginPath
}

// LoginURL begins a login for the given verified email. It generates a
// fresh CSRF state token, stores it, and returns the provider's
// authorization dialog URL carrying client_id, redirect_uri, state, and
// scope.
//
// Any previously pending state for the same email is overwritten, so only
// the most recent login attempt can complete.
func (b *Broker) LoginURL(ctx context.Context, email string) (string, error) {
	ctx, span := b.tracer.Start(ctx, "facebook.LoginURL")
	defer span.End()

	redirectURI, err := b.RedirectURI()
	if err != nil {
		return "", err
	}

	state, err := GenerateState()
	if err != nil {
		return "", err
	}

	if err := b.store.Put(ctx, email, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", b.cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", b.cfg.RequiredScopes)

	return b.cfg.DialogBaseURL + dialogPath + "?" + q.Encode(), nil
}

// Callback completes a login. It verifies the presented state against the
// stored one, exchanges the authorization code for an access token, and
// introspects the token. On success the stored state is left in place; it
// is only replaced when a new login begins.
//
// Error codes returned:
//   - [gwerr.CodeCsrfMismatch]: state mismatch, or no pending login
//   - [gwerr.CodeProviderResponse]: exchange response did not parse
//   - [gwerr.CodeUnavailableDependency]: provider or state store unreachable
func (b *Broker) Callback(ctx context.Context, email, code, state string) (*LoginResult, error) {
	ctx, span := b.tracer.Start(ctx, "facebook.Callback")
	defer span.End()

	expected, err := b.store.Get(ctx, email)
	if err != nil {
		if gwerr.IsNotFound(err) {
			return nil, gwerr.Wrap(err, gwerr.CodeCsrfMismatch,
				"facebook: callback without a pending login")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		span.SetAttributes(attribute.Bool("facebook.state_mismatch", true))
		return nil, gwerr.New(gwerr.CodeCsrfMismatch,
			"facebook: state does not match pending login")
	}

	token, err := b.exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	debug, err := b.introspect(ctx, token.AccessToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return &LoginResult{AccessToken: *token, DebugGraph: *debug}, nil
}

// exchange trades an authorization code for an access token. The provider
// serves this as a GET with the credentials in the query string.
//
// A response body that does not parse as an access token yields
// [gwerr.CodeProviderResponse]; the dominant cause is a stale or
// already-consumed code, which the user fixes by restarting the login.
func (b *Broker) exchange(ctx context.Context, code string) (*AccessToken, error) {
	ctx, span := b.tracer.Start(ctx, "facebook.exchange",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	redirectURI, err := b.RedirectURI()
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("client_id", b.cfg.ClientID)
	q.Set("client_secret", b.cfg.ClientSecret.Value())
	q.Set("redirect_uri", redirectURI)
	q.Set("code", code)

	body, err := b.get(ctx, b.cfg.GraphBaseURL+exchangePath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var token AccessToken
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		if err == nil {
			err = fmt.Errorf("response carries no access_token")
		}
		return nil, gwerr.Wrap(err, gwerr.CodeProviderResponse,
			"facebook: code exchange response did not parse")
	}
	return &token, nil
}

// introspect calls the provider's debug endpoint for the given token,
// authenticating with the app access token form "client_id|client_secret".
func (b *Broker) introspect(ctx context.Context, inputToken string) (*DebugTokenResponse, error) {
	ctx, span := b.tracer.Start(ctx, "facebook.introspect",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	q := url.Values{}
	q.Set("input_token", inputToken)
	q.Set("access_token", b.cfg.ClientID+"|"+b.cfg.ClientSecret.Value())

	body, err := b.get(ctx, b.cfg.GraphBaseURL+introspectPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var debug DebugTokenResponse
	if err := json.Unmarshal(body, &debug); err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeProviderResponse,
			"facebook: introspection response did not parse")
	}
	return &debug, nil
}

// get performs a provider GET and returns the response body. Transport
// failures are classified as unavailable or timeout; the body is read
// regardless of status code because the provider reports errors as JSON
// payloads that the parse steps surface with more context.
func (b *Broker) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeInternal,
			"facebook: failed to build provider request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gwerr.Wrap(err, gwerr.CodeTimeoutDependency,
				"facebook: provider request timed out")
		}
		return nil, gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"facebook: provider is unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, gwerr.Wrap(err, gwerr.CodeUnavailableDependency,
			"facebook: failed to read provider response")
	}
	return body, nil
}
