package http

import (
	"encoding/json"
	"net/http"

	"github.com/Kandil7/lms-auth/internal/auth/service"
	"github.com/Kandil7/lms-auth/pkg/jwtx"
)

// LogoutHandler serves POST /v1/auth/logout: revoke the presented refresh
// token's session. When the caller also presents a valid access token its
// jti goes on the revocation list so the session dies immediately, not at
// access expiry.
type LogoutHandler struct {
	Sessions *service.SessionService
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	if err := h.Sessions.Logout(r.Context(), body.RefreshToken); err != nil {
		writeServiceError(w, err)
		return
	}

	h.revokePresentedAccess(r)

	w.WriteHeader(http.StatusNoContent)
}

func (h *LogoutHandler) revokePresentedAccess(r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		return
	}
	claims, err := h.Sessions.Issuer.Verify(token, jwtx.KindAccess)
	if err != nil {
		return
	}
	_ = h.Sessions.RevokeAccess(r.Context(), claims)
}

// LogoutAllHandler serves POST /v1/auth/logout-all: revoke every session of
// the authenticated user and invalidate outstanding access tokens.
type LogoutAllHandler struct {
	Sessions *service.SessionService
}

func (h *LogoutAllHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "token_malformed", "missing bearer token")
		return
	}

	if err := h.Sessions.LogoutAll(r.Context(), principal.Subject); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
