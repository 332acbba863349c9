package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/Kandil7/lms-auth/internal/auth/domain"
	"github.com/Kandil7/lms-auth/internal/auth/service"
	"github.com/Kandil7/lms-auth/pkg/httpx"
)

type principalKey struct{}

// PrincipalFromContext returns the authenticated principal attached by the
// authn middleware.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// AuthnMiddleware verifies the bearer token and attaches the principal to
// the request context. Requests without a valid token never reach the
// handler.
func AuthnMiddleware(sessions *service.SessionService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "token_malformed", "missing bearer token")
				return
			}

			principal, err := sessions.VerifyAccess(r.Context(), token)
			if err != nil {
				writeServiceError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware gates the request against every rule matching its
// path. The gate sits outermost, before authentication, so failed token
// guesses count like any other request; keys fall to the client IP unless
// an earlier middleware already attached a principal.
func RateLimitMiddleware(limiter *service.RateLimiter) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := ""
			if p, ok := PrincipalFromContext(r.Context()); ok {
				subject = p.Subject
			}

			if err := limiter.AllowAll(r.Context(), r.URL.Path, subject, httpx.ClientIP(r)); err != nil {
				writeServiceError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
