package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/kv"
	"github.com/Kandil7/lms-auth/internal/auth/service"
	"github.com/Kandil7/lms-auth/internal/auth/store"
	"github.com/Kandil7/lms-auth/pkg/httpx"
	"github.com/Kandil7/lms-auth/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store    store.Store
	sharedKV kv.KV

	Sessions *service.SessionService
	Login    *service.LoginService
	MFA      *service.MFAService
	Limiter  *service.RateLimiter
}

func NewRouter(
	buildVersion string,
	st store.Store,
	sharedKV kv.KV,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		sharedKV:     sharedKV,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	rateLimited := RateLimitMiddleware(r.Limiter)
	authed := AuthnMiddleware(r.Sessions)

	// POST /login - gated by the limiter before anything else runs
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(&LoginHandler{LoginService: r.Login},
			rateLimited,
		),
	)

	// POST /mfa/confirm - same exposure profile as login
	r.Mux.Handle("POST /v1/auth/mfa/confirm",
		httpx.Chain(&MFAConfirmHandler{MFAService: r.MFA},
			rateLimited,
		),
	)

	// POST /refresh - unauthenticated; the refresh token is the credential
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(&RefreshHandler{Sessions: r.Sessions},
			rateLimited,
		),
	)

	// POST /logout - the refresh token is the credential; a bearer token
	// is optional and only widens the revocation
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(&LogoutHandler{Sessions: r.Sessions},
			rateLimited,
		),
	)

	// POST /logout-all - the limiter is outermost so rejected bearer
	// tokens still count; token guessing must not bypass the gate
	r.Mux.Handle("POST /v1/auth/logout-all",
		httpx.Chain(&LogoutAllHandler{Sessions: r.Sessions},
			rateLimited,
			authed,
		),
	)

	// GET /me - echo the verified principal; same gate order as above
	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(MeHandler{},
			rateLimited,
			authed,
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.sharedKV))
}
