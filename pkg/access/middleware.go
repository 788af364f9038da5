package access

import (
	"log/slog"
	"net/http"

	gwerr "github.com/akp/postbufferer/pkg/errors"
)

// Middleware returns an HTTP middleware that verifies the edge-layer
// assertion on every inbound request.
//
// The middleware performs the following steps:
//  1. Extracts the "cf-access-jwt-assertion" header
//  2. Verifies the assertion using the provided [Verifier]
//  3. Stores the resulting [Claims] in the request context
//  4. Passes the enriched request to the next handler
//
// A missing header is a client-correctable condition and short-circuits
// with 400. A failed verification short-circuits with the status derived
// from the error code (401 for assertion failures, 503 when the key set
// cannot be fetched); it never propagates as a fault. The original cause
// is logged for operators; response bodies carry no internals.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(access.Middleware(verifier))
func Middleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(AssertionHeader)
			if raw == "" {
				http.Error(w, "missing access assertion header", http.StatusBadRequest)
				return
			}

			ctx := r.Context()
			claims, err := verifier.Verify(ctx, raw)
			if err != nil {
				e := gwerr.FromError(err)
				slog.WarnContext(ctx, "access: assertion rejected",
					"code", e.Code.String(),
					"error", err,
					"path", r.URL.Path,
				)
				http.Error(w, "access assertion rejected", e.HTTPStatus())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
		})
	}
}
