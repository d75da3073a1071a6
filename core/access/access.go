// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package access provides the authorization-header middleware for the
registry's mutating routes.

The registry does not verify authorization tokens: a token is an opaque
bearer value that is captured and logged, never checked against any
identity provider. This is a known, deliberate gap (see the registry's
design notes) and not something this package should silently grow into
full JWT verification.
*/
package access

import (
	"net/http"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/cargoregistry/core/httpcodec"
	"github.com/relabs-tech/cargoregistry/core/logger"
)

// RequireAuthorization returns middleware that rejects any request
// without an Authorization header with 401 and the envelope the spec
// requires. The header's value is never validated; it is only logged,
// and the logged identity is best-effort (see tokenIdentity).
func RequireAuthorization() mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("Authorization")
			if token == "" {
				httpcodec.WriteJSONError(w, http.StatusUnauthorized, "missing authorization token")
				return
			}
			ctx, rlog := logger.ContextWithLoggerIdentity(r.Context(), tokenIdentity(token))
			rlog.Debugln("captured authorization token, not verifying it")
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenIdentity extracts a loggable identity from a bearer token without
// verifying its signature. It is used purely to make request logs
// readable; it must never be used to grant access. If the token isn't a
// parseable JWT, or carries no subject claim, the raw token is returned
// so that it still shows up in logs.
func tokenIdentity(token string) string {
	bearer := token
	if len(token) > 7 && token[:7] == "Bearer " {
		bearer = token[7:]
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(bearer, claims); err == nil {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub
		}
	}
	return token
}
