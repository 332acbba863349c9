package http

import (
	"net/http"

	"github.com/Kandil7/lms-auth/pkg/httpx"
)

// MeHandler serves GET /v1/auth/me: echo the authenticated principal. This
// is what downstream services receive for their authorization decisions.
type MeHandler struct{}

func (MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "token_malformed", "missing bearer token")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, principal)
}
