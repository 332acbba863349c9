package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/service"
	"github.com/Kandil7/lms-auth/pkg/httpx"
)

// ErrorResponse is the wire error envelope. The error field carries one of
// the stable kinds from the service layer; descriptions are for humans and
// carry no machine-readable detail.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, description string) {
	httpx.WriteJSON(w, status, ErrorResponse{Error: kind, Description: description})
}

// writeServiceError maps service errors onto the wire. Anything not in the
// taxonomy is a server error; internals never leak.
func writeServiceError(w http.ResponseWriter, err error) {
	var locked *service.LockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", retryAfterSeconds(locked.RetryAfter))
		writeError(w, http.StatusLocked, "account_locked", "too many failed attempts, try again later")
		return
	}

	var limited *service.RateLimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", retryAfterSeconds(limited.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "request rate exceeded")
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, service.ErrAccountLocked):
		writeError(w, http.StatusLocked, "account_locked", "too many failed attempts, try again later")
	case errors.Is(err, service.ErrMFAAttemptsExceeded):
		writeError(w, http.StatusUnauthorized, "mfa_attempts_exceeded", "challenge permanently invalidated")
	case errors.Is(err, service.ErrMFAExpired):
		writeError(w, http.StatusUnauthorized, "mfa_expired", "challenge expired")
	case errors.Is(err, service.ErrMFAInvalid):
		writeError(w, http.StatusUnauthorized, "mfa_invalid", "invalid challenge or code")
	case errors.Is(err, service.ErrBreachDetected):
		writeError(w, http.StatusUnauthorized, "breach_detected", "refresh token reuse detected, session revoked")
	case errors.Is(err, service.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", "token expired")
	case errors.Is(err, service.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "token_revoked", "token revoked")
	case errors.Is(err, service.ErrTokenMalformed):
		writeError(w, http.StatusUnauthorized, "token_malformed", "token malformed")
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "request rate exceeded")
	case errors.Is(err, service.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "temporary backend failure")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
