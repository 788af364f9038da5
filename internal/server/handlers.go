package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/akp/postbufferer/pkg/access"
	gwerr "github.com/akp/postbufferer/pkg/errors"
)

type handlers struct {
	deps Deps
}

// errorBody is the JSON shape for error responses. Only the stable code
// and a generic message are exposed; causes stay in the logs.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := gwerr.FromError(err)
	slog.WarnContext(r.Context(), "server: request failed",
		"code", e.Code.String(),
		"error", err,
		"path", r.URL.Path,
		"request_id", r.Header.Get(headerRequestID),
	)
	writeJSON(w, e.HTTPStatus(), errorBody{Code: e.Code.String(), Message: e.Message})
}

func (h *handlers) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleLogin starts a provider login for the asserted user. It mints a
// fresh CSRF state, stores it keyed by the verified email, and redirects
// the browser to the provider's consent dialog.
func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, gwerr.New(gwerr.CodeAssertion, "no verified assertion on request"))
		return
	}

	dialogURL, err := h.deps.Broker.LoginURL(r.Context(), claims.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.Redirect(w, r, dialogURL, http.StatusTemporaryRedirect)
}

// handleCallback completes a provider login. The provider redirects the
// browser here with the authorization code and the echoed CSRF state.
// A malformed provider exchange response restarts the login instead of
// failing it; the stored state survives, so the retry is seamless.
func (h *handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, gwerr.New(gwerr.CodeAssertion, "no verified assertion on request"))
		return
	}

	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		writeError(w, r, gwerr.New(gwerr.CodeValidationRequired, "code and state query parameters are required"))
		return
	}

	result, err := h.deps.Broker.Callback(r.Context(), claims.Email, code, state)
	if err != nil {
		if gwerr.HasCode(err, gwerr.CodeProviderResponse) {
			slog.WarnContext(r.Context(), "server: provider exchange failed, restarting login",
				"error", err,
				"request_id", r.Header.Get(headerRequestID),
			)
			http.Redirect(w, r, h.deps.Broker.LoginRestartURL(), http.StatusTemporaryRedirect)
			return
		}
		writeError(w, r, err)
		return
	}

	// TODO: persist the introspection result to login_audit once the
	// schema lands; the postgres client is already wired for it.
	writeJSON(w, http.StatusOK, result)
}

// handleDebugRedis bumps a counter so operators can confirm the cache
// connection end to end.
func (h *handlers) handleDebugRedis(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Redis.Incr(r.Context(), "debug:counter")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"counter": n})
}

// handleDebugDB round-trips the database and reports its version string.
func (h *handlers) handleDebugDB(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB == nil {
		writeError(w, r, gwerr.New(gwerr.CodeUnavailableDependency, "database is not configured"))
		return
	}

	var version string
	if err := h.deps.DB.QueryRow(r.Context(), "SELECT version()").Scan(&version); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

// handleDebugAccess echoes the verified assertion claims so operators can
// inspect what the edge layer forwarded.
func (h *handlers) handleDebugAccess(w http.ResponseWriter, r *http.Request) {
	claims, ok := access.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, gwerr.New(gwerr.CodeAssertion, "no verified assertion on request"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":  claims.Issuer,
		"subject": claims.Subject,
		"email":   claims.Email,
		"country": claims.Country,
	})
}
