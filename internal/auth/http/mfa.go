package http

import (
	"encoding/json"
	"net/http"

	"github.com/Kandil7/lms-auth/internal/auth/service"
	"github.com/Kandil7/lms-auth/pkg/httpx"
)

// MFAConfirmHandler serves POST /v1/auth/mfa/confirm.
type MFAConfirmHandler struct {
	MFAService *service.MFAService
}

func (h *MFAConfirmHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if body.ChallengeID == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "challenge_id and code are required")
		return
	}

	pair, err := h.MFAService.Confirm(r.Context(), body.ChallengeID, body.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}
