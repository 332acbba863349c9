package http

import (
	"encoding/json"
	"net/http"

	"github.com/Kandil7/lms-auth/internal/auth/domain"
	"github.com/Kandil7/lms-auth/internal/auth/service"
	"github.com/Kandil7/lms-auth/pkg/httpx"
)

// TokenResponse is the wire shape of an issued token pair.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds until access expiry
}

// ChallengeResponse is returned when the account requires a second factor.
type ChallengeResponse struct {
	MFARequired bool   `json:"mfa_required"`
	ChallengeID string `json:"challenge_id"`
}

func tokenResponse(pair *domain.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	}
}

// LoginHandler serves POST /v1/auth/login.
type LoginHandler struct {
	LoginService *service.LoginService
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	result, err := h.LoginService.Login(r.Context(), body.Email, body.Password, httpx.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if result.Challenge != nil {
		httpx.WriteJSON(w, http.StatusOK, ChallengeResponse{
			MFARequired: true,
			ChallengeID: result.Challenge.ChallengeID,
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(result.Pair))
}
