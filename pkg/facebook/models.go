package facebook

// AccessToken is the provider's response to a successful authorization-code
// exchange.
type AccessToken struct {
	// AccessToken is the bearer token issued for the granted scopes.
	AccessToken string `json:"access_token"`

	// TokenType is the token's type, normally "bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn uint32 `json:"expires_in"`
}

// DebugTokenResponse is the provider's token introspection response. The
// payload of interest lives one level down under "data".
type DebugTokenResponse struct {
	Data DebugTokenGraph `json:"data"`
}

// DebugTokenGraph describes an introspected access token: which app it was
// issued to, its validity window, and the scopes the user granted.
//
// IsValid is reported exactly as the provider returned it. The broker does
// not reject a completed exchange whose introspection says the token is
// invalid; callers that need a hard guarantee must check IsValid themselves.
type DebugTokenGraph struct {
	AppID               string          `json:"app_id"`
	Type                string          `json:"type"`
	Application         string          `json:"application"`
	DataAccessExpiresAt int32           `json:"data_access_expires_at"`
	ExpiresAt           int32           `json:"expires_at"`
	IsValid             bool            `json:"is_valid"`
	IssuedAt            int32           `json:"issued_at"`
	Scopes              []string        `json:"scopes"`
	GranularScopes      []GranularScope `json:"granular_scopes"`
	UserID              string          `json:"user_id"`
}

// GranularScope is a scope grant narrowed to specific target objects
// (e.g. a page-level permission granted for particular page ids).
type GranularScope struct {
	Scope     string   `json:"scope"`
	TargetIDs []string `json:"target_ids"`
}

// LoginResult is the completed outcome of the OAuth callback: the exchanged
// token plus its introspection. It is serialized as the callback response
// body.
type LoginResult struct {
	AccessToken AccessToken        `json:"access_token"`
	DebugGraph  DebugTokenResponse `json:"debug_graph"`
}
