package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/platinummonkey/monedita/pkg/httputil"
	"github.com/platinummonkey/monedita/pkg/observability"
)

// AdminAuth guards admin routes with a single shared bearer token
type AdminAuth struct {
	token []byte
}

// NewAdminAuth creates the middleware. An empty token rejects every request.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: []byte(token)}
}

// Handler wraps an HTTP handler with authentication
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.token) == 0 {
			httputil.WriteForbidden(w, "admin API is disabled")
			return
		}

		token, ok := httputil.BearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "missing or malformed authorization header")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), m.token) != 1 {
			observability.FromContext(r.Context()).
				WithField("remote", httputil.ClientIP(r)).
				Warn("rejected admin token")
			httputil.WriteUnauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
